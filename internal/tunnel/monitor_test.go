package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"dbbridge/internal/store"
)

const (
	testIdleTimeout = 15 * time.Minute
	testStopTimeout = 30 * time.Minute
)

func newTestMonitor(env *testEnv) *Monitor {
	return NewMonitor(env.manager, time.Minute, testIdleTimeout, testStopTimeout)
}

func TestSweep_DemotesUnusedTunnelToIdle(t *testing.T) {
	env := newTestEnv(t)
	conn := env.seedConnection(t, "mysql-primary")
	monitor := newTestMonitor(env)

	tun, err := env.manager.Create(context.Background(), conn.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// Just short of the idle timeout: nothing happens.
	env.clock.Advance(14 * time.Minute)
	monitor.sweep()
	got, _ := env.manager.Get(tun.ID)
	if got.Status != StatusActive {
		t.Errorf("expected active before the timeout, got %s", got.Status)
	}

	// Past the idle timeout: demoted but kept open.
	env.clock.Advance(2 * time.Minute)
	monitor.sweep()
	got, err = env.manager.Get(tun.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != StatusIdle {
		t.Errorf("expected idle, got %s", got.Status)
	}
	if handle := env.forwarder.lastHandle(); handle.wasStopped() {
		t.Error("idle demotion must not tear down the forward")
	}

	stored, _ := env.store.GetConnection(conn.ID)
	if stored.ForwardStatus != store.ForwardIdle {
		t.Errorf("idle state not mirrored, got %s", stored.ForwardStatus)
	}
}

func TestSweep_StopsTunnelPastStopTimeout(t *testing.T) {
	env := newTestEnv(t)
	conn := env.seedConnection(t, "mysql-primary")
	monitor := newTestMonitor(env)

	tun, err := env.manager.Create(context.Background(), conn.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	monitor.sweep()
	env.clock.Advance(15 * time.Minute)
	monitor.sweep()

	if _, err := env.manager.Get(tun.ID); !errors.Is(err, ErrTunnelNotFound) {
		t.Errorf("tunnel past the stop timeout must leave the registry, got %v", err)
	}
	if handle := env.forwarder.lastHandle(); !handle.wasStopped() {
		t.Error("expected the forward to be torn down")
	}

	// The port is free again.
	other := env.seedConnection(t, "redis-cache")
	otherTun, err := env.manager.Create(context.Background(), other.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if otherTun.LocalPort != tun.LocalPort {
		t.Errorf("expected port %d to be released, got %d", tun.LocalPort, otherTun.LocalPort)
	}
}

func TestSweep_TouchResetsIdleness(t *testing.T) {
	env := newTestEnv(t)
	conn := env.seedConnection(t, "mysql-primary")
	monitor := newTestMonitor(env)

	tun, err := env.manager.Create(context.Background(), conn.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	monitor.sweep()
	got, _ := env.manager.Get(tun.ID)
	if got.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", got.Status)
	}

	// Touch restarts the clock but leaves the status alone; only an explicit
	// reconnect brings an idle tunnel back to active.
	if err := env.manager.Touch(tun.ID); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	got, _ = env.manager.Get(tun.ID)
	if got.Status != StatusIdle {
		t.Errorf("touch must not alter status, got %s", got.Status)
	}

	// 29 minutes after the touch: under the stop timeout, still open.
	env.clock.Advance(29 * time.Minute)
	monitor.sweep()
	got, err = env.manager.Get(tun.ID)
	if err != nil {
		t.Fatalf("touched tunnel must survive the sweep, got %v", err)
	}
	if got.Status != StatusIdle {
		t.Errorf("expected idle, got %s", got.Status)
	}
	if handle := env.forwarder.lastHandle(); handle.wasStopped() {
		t.Error("touch must defer the hard stop")
	}

	// Past the stop timeout relative to the touch: now it goes.
	env.clock.Advance(2 * time.Minute)
	monitor.sweep()
	if _, err := env.manager.Get(tun.ID); !errors.Is(err, ErrTunnelNotFound) {
		t.Errorf("expected the tunnel stopped after the full timeout, got %v", err)
	}
}

func TestSweep_DeadTransportBecomesErrorWithoutReconnect(t *testing.T) {
	env := newTestEnv(t)
	conn := env.seedConnection(t, "mysql-primary")
	monitor := newTestMonitor(env)

	tun, err := env.manager.Create(context.Background(), conn.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	handle := env.forwarder.lastHandle()
	handle.mu.Lock()
	handle.alive = false
	handle.err = errors.New("lost connection to pod")
	handle.mu.Unlock()

	monitor.sweep()
	got, err := env.manager.Get(tun.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != StatusError {
		t.Errorf("expected error status, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Error("expected transport failure recorded")
	}

	// Further sweeps must not retry on their own.
	monitor.sweep()
	monitor.sweep()
	if opens := env.forwarder.openedPorts(); len(opens) != 1 {
		t.Errorf("monitor must never reconnect, opens=%v", opens)
	}
	got, _ = env.manager.Get(tun.ID)
	if got.Status != StatusError {
		t.Errorf("expected error status to persist, got %s", got.Status)
	}

	stored, _ := env.store.GetConnection(conn.ID)
	if stored.ForwardStatus != store.ForwardError {
		t.Errorf("error state not mirrored, got %s", stored.ForwardStatus)
	}
}

func TestMonitor_StartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	monitor := NewMonitor(env.manager, 10*time.Millisecond, testIdleTimeout, testStopTimeout)

	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := monitor.Start(context.Background()); err == nil {
		t.Error("second Start must fail while running")
	}

	monitor.Stop()

	// Restartable after a clean stop.
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	monitor.Stop()
}
