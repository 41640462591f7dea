package discovery

// MiddlewareType identifies a database/storage kind that discovery knows how
// to recognize from service metadata.
type MiddlewareType string

const (
	TypeMySQL      MiddlewareType = "mysql"
	TypePostgreSQL MiddlewareType = "postgresql"
	TypeRedis      MiddlewareType = "redis"
	TypeMongoDB    MiddlewareType = "mongodb"
	TypeMinIO      MiddlewareType = "minio"
)

// ServiceKey is the identity used to deduplicate discovered services against
// existing connections: the (namespace, service name) pair, not the display
// name.
type ServiceKey struct {
	Namespace   string
	ServiceName string
}

// DiscoveredService is a candidate database instance found by scanning
// cluster services. It is ephemeral; the import pipeline turns it into a
// persisted connection.
type DiscoveredService struct {
	Name      string         `json:"name"`
	Type      MiddlewareType `json:"type"`
	Namespace string         `json:"namespace"`
	Host      string         `json:"host"`
	Port      int32          `json:"port"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	// SecretRef names the cluster secret the credentials were read from;
	// empty when no secret matched the service.
	SecretRef string `json:"secret_ref,omitempty"`

	// HasCredentials is false when no password could be extracted; the caller
	// decides whether to prompt the operator for manual entry.
	HasCredentials bool `json:"has_credentials"`
}

// Key returns the service's identity key.
func (s DiscoveredService) Key() ServiceKey {
	return ServiceKey{Namespace: s.Namespace, ServiceName: s.Name}
}
