package tunnel

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a tunnel.
type Status string

const (
	// StatusPending means the tunnel record exists but no forward has been
	// attempted yet.
	StatusPending Status = "pending"
	// StatusConnecting means a forward is being established; the registry
	// slot is reserved but the blocking open runs outside the lock.
	StatusConnecting Status = "connecting"
	// StatusActive means the forward is up and usable.
	StatusActive Status = "active"
	// StatusIdle means the forward is up but has not been touched within the
	// idle timeout. The tunnel stays open.
	StatusIdle Status = "idle"
	// StatusError means the forward failed or died; reconnection is always a
	// deliberate caller action.
	StatusError Status = "error"
	// StatusStopped is terminal; the registry entry is removed and the local
	// port released.
	StatusStopped Status = "stopped"
)

// Tunnel is a snapshot of one managed forward. The manager's registry holds
// the authoritative state; snapshots handed to callers are copies.
type Tunnel struct {
	ID           string    `json:"id"`
	ConnectionID uint      `json:"connection_id"`
	Namespace    string    `json:"namespace"`
	ServiceName  string    `json:"service_name"`
	RemotePort   int       `json:"remote_port"`
	LocalPort    int       `json:"local_port"`
	Status       Status    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	LastUsed     time.Time `json:"last_used"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	// ErrTunnelNotFound is returned for lookups of unknown tunnel ids.
	ErrTunnelNotFound = errors.New("tunnel not found")
	// ErrNotK8sConnection is returned when a tunnel is requested for a
	// connection that was not imported from a cluster.
	ErrNotK8sConnection = errors.New("connection is not kubernetes-sourced")
	// ErrPortInUse is returned when an explicitly pinned local port is
	// already held by another tunnel.
	ErrPortInUse = errors.New("local port already in use")
	// ErrNoFreePorts is returned when the allocator exhausts its port range.
	ErrNoFreePorts = errors.New("no free local ports in allocation range")
)

// Handle is the live transport of an established forward.
type Handle interface {
	// Stop tears the forward down. Safe to call more than once.
	Stop()
	// Alive reports whether the forwarding stream is still running.
	Alive() bool
	// Err returns the transport error that killed the stream, if any.
	Err() error
}

// Forwarder opens forwards against one cluster.
type Forwarder interface {
	Open(ctx context.Context, namespace, serviceName string, remotePort, localPort int) (Handle, error)
}

// ForwarderProvider resolves the forwarder for a connection. Connections
// belong to different clusters, so the transport is looked up per call.
type ForwarderProvider interface {
	ForwarderFor(clusterID *uint) (Forwarder, error)
}
