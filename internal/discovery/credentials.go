package discovery

// Credentials is the best-effort login material extracted from a secret.
type Credentials struct {
	Username string
	Password string
	Database string

	// HasPassword is false when none of the candidate keys held a password.
	// That is not a failure; the caller reports it via has_credentials and
	// leaves manual entry to the operator.
	HasPassword bool
}

// ExtractCredentials probes a secret's decoded key/value map for username,
// password and database using the type's ordered candidate key lists, taking
// the first present value for each. When no username key is present, the
// type-specific default applies (root for mysql/mongodb, postgres for
// postgresql, empty for redis/minio).
func ExtractCredentials(data map[string]string, t MiddlewareType) Credentials {
	profile, ok := profileFor(t)
	if !ok {
		return Credentials{}
	}

	creds := Credentials{
		Username: firstPresent(data, profile.UsernameKeys),
		Database: firstPresent(data, profile.DatabaseKeys),
	}
	if password, found := lookup(data, profile.PasswordKeys); found {
		creds.Password = password
		creds.HasPassword = true
	}
	if creds.Username == "" {
		creds.Username = profile.DefaultUser
	}
	return creds
}

func firstPresent(data map[string]string, keys []string) string {
	value, _ := lookup(data, keys)
	return value
}

func lookup(data map[string]string, keys []string) (string, bool) {
	for _, key := range keys {
		if value, ok := data[key]; ok && value != "" {
			return value, true
		}
	}
	return "", false
}
