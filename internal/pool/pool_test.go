package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"dbbridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedForwardedConnection(t *testing.T, s *store.Store, connType string, localPort int) *store.Connection {
	t.Helper()
	conn := &store.Connection{
		Name:             connType + "-test",
		Type:             connType,
		Host:             "localhost",
		Username:         "root",
		Password:         "secret",
		Database:         "app",
		Source:           store.SourceK8s,
		K8sNamespace:     "prod",
		K8sServiceName:   connType + "-test",
		ForwardLocalPort: localPort,
		ForwardStatus:    store.ForwardActive,
	}
	if err := s.CreateConnection(conn); err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}
	return conn
}

func TestGet_BuildsClientPerSupportedType(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	tests := []struct {
		connType  string
		wantSQL   bool
		wantRedis bool
	}{
		{connType: "mysql", wantSQL: true},
		{connType: "postgresql", wantSQL: true},
		{connType: "redis", wantRedis: true},
	}

	for i, tc := range tests {
		conn := seedForwardedConnection(t, s, tc.connType, 15100+i)
		client, err := p.Get(context.Background(), conn.ID)
		if err != nil {
			t.Fatalf("%s: Get returned error: %v", tc.connType, err)
		}
		if (client.DB() != nil) != tc.wantSQL {
			t.Errorf("%s: sql handle presence = %v, want %v", tc.connType, client.DB() != nil, tc.wantSQL)
		}
		if (client.Redis() != nil) != tc.wantRedis {
			t.Errorf("%s: redis handle presence = %v, want %v", tc.connType, client.Redis() != nil, tc.wantRedis)
		}
		if client.LocalPort != conn.ForwardLocalPort {
			t.Errorf("%s: client dials port %d, want %d", tc.connType, client.LocalPort, conn.ForwardLocalPort)
		}
	}
}

func TestGet_UnsupportedType(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	for _, connType := range []string{"mongodb", "minio"} {
		conn := seedForwardedConnection(t, s, connType, 15120)
		_, err := p.Get(context.Background(), conn.ID)
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("%s: expected ErrUnsupportedType, got %v", connType, err)
		}
	}
}

func TestGet_RequiresForwardedPort(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	conn := seedForwardedConnection(t, s, "mysql", 0)
	_, err := p.Get(context.Background(), conn.ID)
	if !errors.Is(err, ErrNoActiveTunnel) {
		t.Errorf("expected ErrNoActiveTunnel, got %v", err)
	}
}

func TestGet_UnknownConnection(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	_, err := p.Get(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_CachesClient(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	conn := seedForwardedConnection(t, s, "mysql", 15100)
	first, err := p.Get(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	second, err := p.Get(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if first != second {
		t.Error("expected the cached client instance on the second lookup")
	}
	if p.Len() != 1 {
		t.Errorf("expected one cached client, got %d", p.Len())
	}
}

func TestGet_ConcurrentMissesBuildOneClient(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	conn := seedForwardedConnection(t, s, "redis", 15100)

	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := p.Get(context.Background(), conn.ID)
			if err != nil {
				t.Errorf("Get returned error: %v", err)
				return
			}
			clients[i] = client
		}(i)
	}
	wg.Wait()

	for _, client := range clients[1:] {
		if client != clients[0] {
			t.Fatal("concurrent lookups must share one client")
		}
	}
	if p.Len() != 1 {
		t.Errorf("expected one cached client, got %d", p.Len())
	}
}

func TestEvict_DropsClient(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	defer p.Close()

	conn := seedForwardedConnection(t, s, "mysql", 15100)
	first, err := p.Get(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	p.Evict(conn.ID)
	if p.Len() != 0 {
		t.Errorf("expected empty pool after evict, got %d", p.Len())
	}

	// Evicting an absent entry is a no-op.
	p.Evict(conn.ID)

	second, err := p.Get(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if first == second {
		t.Error("expected a fresh client after eviction")
	}
}

func TestClose_EmptiesPool(t *testing.T) {
	s := newTestStore(t)
	p := New(s)

	for i, connType := range []string{"mysql", "postgresql", "redis"} {
		conn := seedForwardedConnection(t, s, connType, 15100+i)
		if _, err := p.Get(context.Background(), conn.ID); err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
	}

	p.Close()
	if p.Len() != 0 {
		t.Errorf("expected empty pool after close, got %d", p.Len())
	}
}
