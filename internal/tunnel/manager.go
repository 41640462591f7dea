package tunnel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dbbridge/internal/store"
	"dbbridge/pkg/logging"

	"github.com/google/uuid"
)

const subsystem = "Tunnel"

// bindRetryLimit bounds how many alternative ports the allocator tries when
// the OS rejects a bind on an auto-assigned port.
const bindRetryLimit = 5

// entry is the registry's mutable record for one tunnel. All fields are
// guarded by the manager's lock except handle teardown, which happens after
// the entry has been unlinked.
type entry struct {
	tunnel        Tunnel
	handle        Handle
	stopRequested bool
}

// Manager owns the set of active tunnels. The registry supports many
// concurrent readers and occasional writers; establishing a forward is slow
// blocking I/O and never holds the write lock for its duration. Instead the
// slot is reserved (StatusConnecting) under a short lock, the open runs
// unlocked, and the result is committed under the lock again.
type Manager struct {
	mu      sync.RWMutex
	tunnels map[string]*entry // by tunnel id
	byConn  map[uint]string   // connection id -> tunnel id
	ports   map[int]string    // local port -> tunnel id

	store    *store.Store
	provider ForwarderProvider

	portBase int
	portMax  int

	now    func() time.Time
	onStop func(connectionID uint)
}

// OnStop registers a callback invoked whenever a tunnel reaches Stopped,
// including stops raced against an in-flight create. Used to evict pooled
// database clients whose local address just went away. Must be set before
// the manager is used.
func (m *Manager) OnStop(fn func(connectionID uint)) {
	m.onStop = fn
}

func (m *Manager) notifyStop(connectionID uint) {
	if m.onStop != nil {
		m.onStop(connectionID)
	}
}

// NewManager creates a tunnel manager. portBase/portMax bound the local port
// allocator; now is injectable for tests and defaults to time.Now.
func NewManager(s *store.Store, provider ForwarderProvider, portBase, portMax int, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		tunnels:  make(map[string]*entry),
		byConn:   make(map[uint]string),
		ports:    make(map[int]string),
		store:    s,
		provider: provider,
		portBase: portBase,
		portMax:  portMax,
		now:      now,
	}
}

// Create opens a tunnel for the given connection. When preferredLocalPort is
// zero the allocator picks the next free port above the base. On establish
// failure the tunnel is returned in StatusError rather than as an error, so
// the caller inspects status instead of branching on exceptions; only
// caller-input problems (unknown connection, non-k8s connection, pinned port
// conflict) are returned as errors.
//
// At most one tunnel exists per connection: a concurrent or repeated Create
// for the same connection observes the existing entry, in-flight or
// completed, and never allocates a second port.
func (m *Manager) Create(ctx context.Context, connectionID uint, preferredLocalPort int) (*Tunnel, error) {
	conn, err := m.store.GetConnection(connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Source != store.SourceK8s {
		return nil, fmt.Errorf("connection %d: %w", connectionID, ErrNotK8sConnection)
	}

	m.mu.Lock()
	if existingID, ok := m.byConn[connectionID]; ok {
		snapshot := m.tunnels[existingID].tunnel
		m.mu.Unlock()
		return &snapshot, nil
	}

	localPort, err := m.allocatePortLocked("", preferredLocalPort)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	e := &entry{tunnel: Tunnel{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Namespace:    conn.K8sNamespace,
		ServiceName:  conn.K8sServiceName,
		RemotePort:   conn.K8sServicePort,
		LocalPort:    localPort,
		Status:       StatusConnecting,
		CreatedAt:    m.now(),
	}}
	m.tunnels[e.tunnel.ID] = e
	m.byConn[connectionID] = e.tunnel.ID
	m.ports[localPort] = e.tunnel.ID
	m.mu.Unlock()

	return m.establish(ctx, e, conn.ClusterID, preferredLocalPort != 0)
}

// Reconnect tears down any existing forward for the tunnel and establishes a
// fresh one, reusing the previously assigned local port unless the caller
// pins a different one. Reusing the port keeps already-open driver pools
// pointing at a working address across transient cluster disruptions.
func (m *Manager) Reconnect(ctx context.Context, tunnelID string, preferredLocalPort int) (*Tunnel, error) {
	m.mu.Lock()
	e, ok := m.tunnels[tunnelID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", tunnelID, ErrTunnelNotFound)
	}

	// Validate any pinned port before detaching the existing forward: a
	// rejected reconnect must leave the tunnel exactly as it was.
	if preferredLocalPort != 0 && preferredLocalPort != e.tunnel.LocalPort {
		newPort, err := m.allocatePortLocked(tunnelID, preferredLocalPort)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		delete(m.ports, e.tunnel.LocalPort)
		m.ports[newPort] = tunnelID
		e.tunnel.LocalPort = newPort
	}

	oldHandle := e.handle
	e.handle = nil
	e.stopRequested = false
	e.tunnel.Status = StatusConnecting
	e.tunnel.LastError = ""
	connectionID := e.tunnel.ConnectionID
	m.mu.Unlock()

	if oldHandle != nil {
		oldHandle.Stop()
	}

	// The old forward is already gone at this point, so a failed lookup is
	// committed as tunnel state rather than returned as a bare error.
	conn, err := m.store.GetConnection(connectionID)
	if err != nil {
		return m.commitFailure(e, err), nil
	}
	return m.establish(ctx, e, conn.ClusterID, preferredLocalPort != 0)
}

// establish performs the blocking forward open for a reserved entry and
// commits the outcome. pinned suppresses the move-to-another-port fallback
// when the OS rejects the bind.
func (m *Manager) establish(ctx context.Context, e *entry, clusterID *uint, pinned bool) (*Tunnel, error) {
	forwarder, err := m.provider.ForwarderFor(clusterID)
	if err != nil {
		return m.commitFailure(e, err), nil
	}

	m.mu.RLock()
	namespace := e.tunnel.Namespace
	serviceName := e.tunnel.ServiceName
	remotePort := e.tunnel.RemotePort
	localPort := e.tunnel.LocalPort
	m.mu.RUnlock()

	var handle Handle
	for attempt := 0; ; attempt++ {
		handle, err = forwarder.Open(ctx, namespace, serviceName, remotePort, localPort)
		if err == nil {
			break
		}
		// A port held by another OS process is invisible to the registry.
		// Fall back to the next free port unless the caller pinned this one.
		if pinned || !isBindError(err) || attempt >= bindRetryLimit {
			return m.commitFailure(e, err), nil
		}
		m.mu.Lock()
		nextPort, allocErr := m.allocatePortLocked(e.tunnel.ID, 0)
		if allocErr != nil {
			m.mu.Unlock()
			return m.commitFailure(e, allocErr), nil
		}
		delete(m.ports, e.tunnel.LocalPort)
		m.ports[nextPort] = e.tunnel.ID
		e.tunnel.LocalPort = nextPort
		localPort = nextPort
		m.mu.Unlock()
	}

	m.mu.Lock()
	if e.stopRequested {
		// Stop raced the open; honor it so the tunnel always ends Stopped.
		m.unlinkLocked(e)
		e.tunnel.Status = StatusStopped
		snapshot := e.tunnel
		m.mu.Unlock()
		handle.Stop()
		m.mirror(&snapshot)
		m.notifyStop(snapshot.ConnectionID)
		return &snapshot, nil
	}
	e.handle = handle
	e.tunnel.Status = StatusActive
	e.tunnel.LastError = ""
	e.tunnel.LastUsed = m.now()
	snapshot := e.tunnel
	m.mu.Unlock()

	logging.Info(subsystem, "Tunnel %s active: 127.0.0.1:%d -> %s/%s:%d",
		snapshot.ID, snapshot.LocalPort, snapshot.Namespace, snapshot.ServiceName, snapshot.RemotePort)
	m.mirror(&snapshot)
	return &snapshot, nil
}

func (m *Manager) commitFailure(e *entry, cause error) *Tunnel {
	m.mu.Lock()
	if e.stopRequested {
		m.unlinkLocked(e)
		e.tunnel.Status = StatusStopped
	} else {
		e.tunnel.Status = StatusError
		e.tunnel.LastError = cause.Error()
	}
	snapshot := e.tunnel
	m.mu.Unlock()

	logging.Warn(subsystem, "Tunnel %s failed to establish: %v", snapshot.ID, cause)
	m.mirror(&snapshot)
	if snapshot.Status == StatusStopped {
		m.notifyStop(snapshot.ConnectionID)
	}
	return &snapshot
}

// Stop closes the tunnel's forward, removes it from the registry and
// releases its local port. Safe to call concurrently with an in-flight
// Create or Reconnect for the same connection: the flag set here is checked
// after the blocking open completes.
func (m *Manager) Stop(tunnelID string) error {
	m.mu.Lock()
	e, ok := m.tunnels[tunnelID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", tunnelID, ErrTunnelNotFound)
	}
	e.stopRequested = true
	handle := e.handle
	e.handle = nil
	m.unlinkLocked(e)
	e.tunnel.Status = StatusStopped
	snapshot := e.tunnel
	m.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	logging.Info(subsystem, "Tunnel %s stopped, released port %d", snapshot.ID, snapshot.LocalPort)
	m.mirror(&snapshot)
	m.notifyStop(snapshot.ConnectionID)
	return nil
}

// StopAll stops every tunnel; called on process shutdown.
func (m *Manager) StopAll() {
	for _, t := range m.List() {
		if err := m.Stop(t.ID); err != nil {
			logging.Warn(subsystem, "Failed to stop tunnel %s during shutdown: %v", t.ID, err)
		}
	}
}

// Touch updates the tunnel's last-used timestamp without altering its
// status. Consumers call it immediately before and after using the tunnel;
// it defers the monitor's hard stop, while an idle tunnel becomes active
// again only through an explicit Reconnect.
func (m *Manager) Touch(tunnelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tunnels[tunnelID]
	if !ok {
		return fmt.Errorf("%s: %w", tunnelID, ErrTunnelNotFound)
	}
	e.tunnel.LastUsed = m.now()
	return nil
}

// Get returns a snapshot of the tunnel with the given id.
func (m *Manager) Get(tunnelID string) (*Tunnel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tunnels[tunnelID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tunnelID, ErrTunnelNotFound)
	}
	snapshot := e.tunnel
	return &snapshot, nil
}

// GetByConnection returns the connection's single current tunnel, if any.
func (m *Manager) GetByConnection(connectionID uint) (*Tunnel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tunnelID, ok := m.byConn[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %d: %w", connectionID, ErrTunnelNotFound)
	}
	snapshot := m.tunnels[tunnelID].tunnel
	return &snapshot, nil
}

// List returns snapshots of all registered tunnels, ordered by creation.
func (m *Manager) List() []Tunnel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tunnels := make([]Tunnel, 0, len(m.tunnels))
	for _, e := range m.tunnels {
		tunnels = append(tunnels, e.tunnel)
	}
	sort.Slice(tunnels, func(i, j int) bool {
		if tunnels[i].CreatedAt.Equal(tunnels[j].CreatedAt) {
			return tunnels[i].ID < tunnels[j].ID
		}
		return tunnels[i].CreatedAt.Before(tunnels[j].CreatedAt)
	})
	return tunnels
}

// allocatePortLocked reserves a local port. preferred != 0 pins that exact
// port and fails with ErrPortInUse when another tunnel holds it; otherwise
// the allocator scans upward from the base. selfID exempts the caller's own
// current reservation from the conflict check.
func (m *Manager) allocatePortLocked(selfID string, preferred int) (int, error) {
	if preferred != 0 {
		if owner, taken := m.ports[preferred]; taken && owner != selfID {
			return 0, fmt.Errorf("port %d: %w", preferred, ErrPortInUse)
		}
		return preferred, nil
	}
	for port := m.portBase; port <= m.portMax; port++ {
		if _, taken := m.ports[port]; !taken {
			return port, nil
		}
	}
	return 0, fmt.Errorf("range %d-%d: %w", m.portBase, m.portMax, ErrNoFreePorts)
}

// unlinkLocked removes the entry from all registry maps, releasing its port.
func (m *Manager) unlinkLocked(e *entry) {
	delete(m.tunnels, e.tunnel.ID)
	delete(m.byConn, e.tunnel.ConnectionID)
	delete(m.ports, e.tunnel.LocalPort)
}

// mirror persists the tunnel state onto the connection record so a restart
// can see which connections expect a tunnel. Forward handles themselves never
// survive a restart.
func (m *Manager) mirror(t *Tunnel) {
	var status store.ForwardStatus
	forwardID := t.ID
	localPort := t.LocalPort

	switch t.Status {
	case StatusActive:
		status = store.ForwardActive
	case StatusIdle:
		status = store.ForwardIdle
	case StatusError:
		status = store.ForwardError
	case StatusStopped:
		status = store.ForwardPending
		forwardID = ""
		localPort = 0
	default:
		status = store.ForwardPending
	}

	if err := m.store.SaveForwardState(t.ConnectionID, forwardID, localPort, status, t.LastError); err != nil {
		logging.Warn(subsystem, "Failed to mirror tunnel %s state to connection %d: %v", t.ID, t.ConnectionID, err)
	}
}

// transition is used by the idle monitor for Active<->Idle and Error
// transitions observed during a sweep.
func (m *Manager) transition(tunnelID string, status Status, cause error) {
	m.mu.Lock()
	e, ok := m.tunnels[tunnelID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.tunnel.Status = status
	if cause != nil {
		e.tunnel.LastError = cause.Error()
	}
	snapshot := e.tunnel
	m.mu.Unlock()
	m.mirror(&snapshot)
}

func isBindError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "bind:")
}
