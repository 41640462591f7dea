package discovery

import "strings"

// Scoring weights carried over from the original tuning: a canonical port is
// a stronger signal than a name substring, and only port matches (alone or
// combined with a name hit) clear the threshold.
const (
	portMatchScore = 15
	nameMatchScore = 10
	matchThreshold = 15
)

// middlewareProfile describes how to recognize one middleware type and which
// secret keys carry its credentials. The declaration order of the profiles
// table is the tie-break when a service scores equally under two types, so
// the table is a slice rather than a map.
type middlewareProfile struct {
	Type           MiddlewareType
	CanonicalPorts []int32
	NameHints      []string

	UsernameKeys []string
	PasswordKeys []string
	DatabaseKeys []string
	DefaultUser  string
}

var middlewareProfiles = []middlewareProfile{
	{
		Type:           TypeMySQL,
		CanonicalPorts: []int32{3306},
		NameHints:      []string{"mysql", "mariadb"},
		UsernameKeys:   []string{"username", "user", "MYSQL_USER", "MYSQL_ROOT_USER"},
		PasswordKeys:   []string{"password", "MYSQL_PASSWORD", "MYSQL_ROOT_PASSWORD", "mysql-password", "mysql-root-password"},
		DatabaseKeys:   []string{"database", "MYSQL_DATABASE"},
		DefaultUser:    "root",
	},
	{
		Type:           TypePostgreSQL,
		CanonicalPorts: []int32{5432},
		NameHints:      []string{"postgres", "postgresql", "pgsql"},
		UsernameKeys:   []string{"username", "user", "POSTGRES_USER"},
		PasswordKeys:   []string{"password", "POSTGRES_PASSWORD", "postgres-password"},
		DatabaseKeys:   []string{"database", "POSTGRES_DB"},
		DefaultUser:    "postgres",
	},
	{
		Type:           TypeRedis,
		CanonicalPorts: []int32{6379},
		NameHints:      []string{"redis", "valkey"},
		UsernameKeys:   []string{"username", "user"},
		PasswordKeys:   []string{"password", "REDIS_PASSWORD", "redis-password"},
		DatabaseKeys:   nil,
		DefaultUser:    "", // redis auth is password-only
	},
	{
		Type:           TypeMongoDB,
		CanonicalPorts: []int32{27017},
		NameHints:      []string{"mongo", "mongodb"},
		UsernameKeys:   []string{"username", "user", "MONGODB_ROOT_USER", "MONGO_INITDB_ROOT_USERNAME"},
		PasswordKeys:   []string{"password", "MONGODB_ROOT_PASSWORD", "MONGO_INITDB_ROOT_PASSWORD", "mongodb-root-password"},
		DatabaseKeys:   []string{"database", "MONGO_INITDB_DATABASE"},
		DefaultUser:    "root",
	},
	{
		Type:           TypeMinIO,
		CanonicalPorts: []int32{9000},
		NameHints:      []string{"minio"},
		UsernameKeys:   []string{"username", "user", "MINIO_ROOT_USER", "root-user", "access-key"},
		PasswordKeys:   []string{"password", "MINIO_ROOT_PASSWORD", "root-password", "secret-key"},
		DatabaseKeys:   nil,
		DefaultUser:    "",
	},
}

// profileFor returns the profile for a middleware type.
func profileFor(t MiddlewareType) (middlewareProfile, bool) {
	for _, profile := range middlewareProfiles {
		if profile.Type == t {
			return profile, true
		}
	}
	return middlewareProfile{}, false
}

// Classify identifies the middleware type of a service from its name and
// declared ports alone. It returns false when the service matches no
// supported type; that is not an error, the service is simply not a
// recognized middleware.
//
// Classification deliberately avoids introspecting pod images or container
// specs: service-level metadata is available even when the operator lacks
// broader read permissions.
func Classify(serviceName string, ports []int32) (MiddlewareType, bool) {
	lowerName := strings.ToLower(serviceName)

	var best MiddlewareType
	bestScore := 0
	for _, profile := range middlewareProfiles {
		score := 0
		for _, canonical := range profile.CanonicalPorts {
			if containsPort(ports, canonical) {
				score += portMatchScore
				break
			}
		}
		for _, hint := range profile.NameHints {
			if strings.Contains(lowerName, hint) {
				score += nameMatchScore
				break
			}
		}
		// Strictly greater: on equal scores the earlier declaration wins.
		if score >= matchThreshold && score > bestScore {
			best = profile.Type
			bestScore = score
		}
	}
	if bestScore == 0 {
		return "", false
	}
	return best, true
}

// CanonicalPort returns the service port matching the type's canonical port
// set, falling back to the first declared port.
func CanonicalPort(t MiddlewareType, ports []int32) int32 {
	if profile, ok := profileFor(t); ok {
		for _, port := range ports {
			if containsPort(profile.CanonicalPorts, port) {
				return port
			}
		}
	}
	if len(ports) > 0 {
		return ports[0]
	}
	return 0
}

func containsPort(ports []int32, want int32) bool {
	for _, p := range ports {
		if p == want {
			return true
		}
	}
	return false
}
