package cmd

import (
	"context"
	"fmt"

	"dbbridge/internal/config"
	"dbbridge/internal/discovery"
	"dbbridge/internal/kube"
	"dbbridge/internal/pool"
	"dbbridge/internal/store"
	"dbbridge/internal/tunnel"
	"dbbridge/pkg/logging"
)

// application bundles the subsystems every command needs. Commands build one
// at the start of their run and close it on the way out.
type application struct {
	cfg     config.Config
	store   *store.Store
	manager *tunnel.Manager
	pool    *pool.Pool
}

// newApplication loads configuration, initializes logging and opens the
// store. logFormat is "text" for interactive commands and "json" for serve.
func newApplication(logFormat string) (*application, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), logFormat, nil)

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	manager := tunnel.NewManager(s, &tunnel.StoreForwarderProvider{Store: s},
		cfg.Tunnel.PortBase, cfg.Tunnel.PortMax, nil)
	p := pool.New(s)
	manager.OnStop(p.Evict)

	return &application{cfg: cfg, store: s, manager: manager, pool: p}, nil
}

// Close stops all tunnels and releases pooled clients and the store.
func (a *application) Close() {
	a.manager.StopAll()
	a.pool.Close()
	if err := a.store.Close(); err != nil {
		logging.Warn("App", "Failed to close store: %v", err)
	}
}

// discoverServices runs one discovery pass against the given cluster,
// excluding services already imported as connections.
func (a *application) discoverServices(ctx context.Context, kubeconfig, contextName string) ([]discovery.DiscoveredService, error) {
	existing, err := a.store.ListK8sServiceKeys()
	if err != nil {
		return nil, err
	}
	engine := discovery.NewEngine(kube.NewManager(kubeconfig, contextName))
	return engine.Discover(ctx, existing)
}
