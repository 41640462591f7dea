package store

import "time"

// ConnectionSource tells where a connection record came from.
const (
	SourceLocal = "local"
	SourceK8s   = "k8s"
)

// ForwardStatus is the persisted mirror of a tunnel's state, kept on the
// connection so a restart can rediscover which connections expect a tunnel.
type ForwardStatus string

const (
	ForwardPending ForwardStatus = "pending"
	ForwardActive  ForwardStatus = "active"
	ForwardIdle    ForwardStatus = "idle"
	ForwardError   ForwardStatus = "error"
)

// Connection is a persisted database connection record.
//
// For Source == "k8s", K8sNamespace and K8sServiceName are always present and
// Host/Port are placeholders until a tunnel assigns a real local port.
type Connection struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Type     string `gorm:"not null" json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	// SecretRef names the cluster secret the credentials came from, so an
	// operator can rotate them at the source.
	SecretRef string `json:"secret_ref,omitempty"`
	Database  string `json:"database,omitempty"`

	Source    string `gorm:"not null;default:local" json:"source"`
	IsDefault bool   `gorm:"not null;default:false" json:"is_default"`

	K8sNamespace   string `gorm:"index:idx_k8s_identity" json:"k8s_namespace,omitempty"`
	K8sServiceName string `gorm:"index:idx_k8s_identity" json:"k8s_service_name,omitempty"`
	K8sServicePort int    `json:"k8s_service_port,omitempty"`
	ClusterID      *uint  `json:"cluster_id,omitempty"`

	ForwardID        string        `json:"forward_id,omitempty"`
	ForwardLocalPort int           `json:"forward_local_port,omitempty"`
	ForwardStatus    ForwardStatus `gorm:"default:pending" json:"forward_status,omitempty"`
	ForwardError     string        `json:"forward_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Cluster is a Kubernetes cluster a connection was imported from. Created
// lazily during import when the operator supplies a cluster name with no
// existing match; otherwise reused by name.
type Cluster struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"uniqueIndex;not null" json:"name"`
	Context    string `json:"context,omitempty"`
	Kubeconfig string `json:"-"`
	// Environment is a free-form tag such as "prod" or "staging".
	Environment string `json:"environment,omitempty"`
	Active      bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
