package tunnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dbbridge/pkg/logging"
)

const monitorSubsystem = "IdleMonitor"

// Monitor is the background loop supervising established tunnels. It demotes
// tunnels unused past the idle timeout to StatusIdle, stops them outright
// past the stop timeout to free cluster-side port-forward streams, and flags
// dead transports as StatusError. It never reconnects on its own: during a
// cluster-wide outage an automatic retry loop would turn one failure into a
// reconnect storm, so recovery stays a deliberate caller action.
type Monitor struct {
	manager *Manager

	interval    time.Duration
	idleTimeout time.Duration
	stopTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates an idle monitor over the given manager.
func NewMonitor(manager *Manager, interval, idleTimeout, stopTimeout time.Duration) *Monitor {
	return &Monitor{
		manager:     manager,
		interval:    interval,
		idleTimeout: idleTimeout,
		stopTimeout: stopTimeout,
	}
}

// Start launches the periodic sweep. It returns an error if the monitor is
// already running; shutdown is deterministic via Stop.
func (mo *Monitor) Start(ctx context.Context) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if mo.cancel != nil {
		return fmt.Errorf("idle monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	mo.cancel = cancel
	mo.done = make(chan struct{})

	go func() {
		defer close(mo.done)
		ticker := time.NewTicker(mo.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				mo.sweep()
			}
		}
	}()

	logging.Info(monitorSubsystem, "Started: interval %s, idle timeout %s, stop timeout %s",
		mo.interval, mo.idleTimeout, mo.stopTimeout)
	return nil
}

// Stop halts the sweep loop and waits for it to exit.
func (mo *Monitor) Stop() {
	mo.mu.Lock()
	cancel := mo.cancel
	done := mo.done
	mo.cancel = nil
	mo.done = nil
	mo.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		logging.Info(monitorSubsystem, "Stopped")
	}
}

// sweep examines every Active or Idle tunnel once.
func (mo *Monitor) sweep() {
	now := mo.manager.now()

	mo.manager.mu.RLock()
	type observation struct {
		id       string
		status   Status
		lastUsed time.Time
		handle   Handle
	}
	observations := make([]observation, 0, len(mo.manager.tunnels))
	for id, e := range mo.manager.tunnels {
		if e.tunnel.Status != StatusActive && e.tunnel.Status != StatusIdle {
			continue
		}
		observations = append(observations, observation{
			id:       id,
			status:   e.tunnel.Status,
			lastUsed: e.tunnel.LastUsed,
			handle:   e.handle,
		})
	}
	mo.manager.mu.RUnlock()

	for _, obs := range observations {
		// A dead transport trumps idleness.
		if obs.handle != nil && !obs.handle.Alive() {
			err := obs.handle.Err()
			if err == nil {
				err = fmt.Errorf("port-forward stream closed")
			}
			logging.Warn(monitorSubsystem, "Tunnel %s transport failed: %v", obs.id, err)
			mo.manager.transition(obs.id, StatusError, err)
			continue
		}

		idleFor := now.Sub(obs.lastUsed)
		switch {
		case idleFor > mo.stopTimeout:
			logging.Info(monitorSubsystem, "Stopping tunnel %s, unused for %s", obs.id, idleFor.Truncate(time.Second))
			if err := mo.manager.Stop(obs.id); err != nil {
				logging.Warn(monitorSubsystem, "Failed to stop idle tunnel %s: %v", obs.id, err)
			}
		case idleFor > mo.idleTimeout && obs.status == StatusActive:
			logging.Info(monitorSubsystem, "Tunnel %s idle for %s", obs.id, idleFor.Truncate(time.Second))
			mo.manager.transition(obs.id, StatusIdle, nil)
		}
	}
}
