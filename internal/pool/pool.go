package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dbbridge/internal/store"
	"dbbridge/pkg/logging"
)

const subsystem = "Pool"

var (
	// ErrUnsupportedType is returned for connection types without a pooled
	// client implementation.
	ErrUnsupportedType = errors.New("no pooled client for connection type")
	// ErrNoActiveTunnel is returned when the connection has no forwarded
	// local port to dial.
	ErrNoActiveTunnel = errors.New("connection has no active tunnel")
)

// Pool caches one database client per connection. Clients dial the tunnel's
// local port, so they are only valid while the tunnel is up; the tunnel
// manager evicts them on stop. Lookups take the read lock, creation takes
// the write lock with a re-check so concurrent misses build one client.
type Pool struct {
	mu      sync.RWMutex
	clients map[uint]*Client

	store *store.Store
}

// New creates an empty pool over the given store.
func New(s *store.Store) *Pool {
	return &Pool{
		clients: make(map[uint]*Client),
		store:   s,
	}
}

// Get returns the cached client for the connection, creating it on first
// use. The connection must have a forwarded local port; mysql, postgresql
// and redis are supported, other types return ErrUnsupportedType.
func (p *Pool) Get(ctx context.Context, connectionID uint) (*Client, error) {
	p.mu.RLock()
	client, ok := p.clients[connectionID]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	conn, err := p.store.GetConnection(connectionID)
	if err != nil {
		return nil, err
	}
	if conn.ForwardLocalPort == 0 {
		return nil, fmt.Errorf("connection %d: %w", connectionID, ErrNoActiveTunnel)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have built the client while we read the store.
	if client, ok := p.clients[connectionID]; ok {
		return client, nil
	}

	client, err = newClient(conn)
	if err != nil {
		return nil, err
	}
	p.clients[connectionID] = client
	logging.Debug(subsystem, "Opened %s client for connection %d on localhost:%d",
		conn.Type, connectionID, conn.ForwardLocalPort)
	return client, nil
}

// Evict closes and drops the cached client for the connection, if any.
// Called by the tunnel manager when the connection's tunnel stops.
func (p *Pool) Evict(connectionID uint) {
	p.mu.Lock()
	client, ok := p.clients[connectionID]
	delete(p.clients, connectionID)
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := client.Close(); err != nil {
		logging.Warn(subsystem, "Failed to close evicted client for connection %d: %v", connectionID, err)
	} else {
		logging.Debug(subsystem, "Evicted client for connection %d", connectionID)
	}
}

// Close evicts every cached client.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[uint]*Client)
	p.mu.Unlock()

	for id, client := range clients {
		if err := client.Close(); err != nil {
			logging.Warn(subsystem, "Failed to close client for connection %d: %v", id, err)
		}
	}
}

// Len reports the number of cached clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
