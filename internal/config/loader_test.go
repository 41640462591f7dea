package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	tmpHome := t.TempDir()
	originalHomeDir := osUserHomeDir
	osUserHomeDir = func() (string, error) { return tmpHome, nil }
	defer func() { osUserHomeDir = originalHomeDir }()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Tunnel.PortBase != 15000 {
		t.Errorf("expected default port base 15000, got %d", cfg.Tunnel.PortBase)
	}
	if cfg.Monitor.IdleTimeout != 15*time.Minute {
		t.Errorf("expected default idle timeout 15m, got %v", cfg.Monitor.IdleTimeout)
	}
	wantStore := filepath.Join(tmpHome, userConfigDir, storeFileName)
	if cfg.StorePath != wantStore {
		t.Errorf("expected store path %q, got %q", wantStore, cfg.StorePath)
	}
}

func TestLoadConfig_UserFileOverridesDefaults(t *testing.T) {
	tmpHome := t.TempDir()
	originalHomeDir := osUserHomeDir
	osUserHomeDir = func() (string, error) { return tmpHome, nil }
	defer func() { osUserHomeDir = originalHomeDir }()

	configDir := filepath.Join(tmpHome, userConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	content := []byte("tunnel:\n  portBase: 22000\nmonitor:\n  idleTimeout: 5m\n")
	if err := os.WriteFile(filepath.Join(configDir, configFileName), content, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Tunnel.PortBase != 22000 {
		t.Errorf("expected port base 22000 from user config, got %d", cfg.Tunnel.PortBase)
	}
	if cfg.Monitor.IdleTimeout != 5*time.Minute {
		t.Errorf("expected idle timeout 5m from user config, got %v", cfg.Monitor.IdleTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.Monitor.StopTimeout != 30*time.Minute {
		t.Errorf("expected default stop timeout 30m, got %v", cfg.Monitor.StopTimeout)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmpHome := t.TempDir()
	originalHomeDir := osUserHomeDir
	osUserHomeDir = func() (string, error) { return tmpHome, nil }
	defer func() { osUserHomeDir = originalHomeDir }()

	t.Setenv("DBBRIDGE_TUNNEL_PORT_BASE", "31000")
	t.Setenv("DBBRIDGE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Tunnel.PortBase != 31000 {
		t.Errorf("expected port base 31000 from env, got %d", cfg.Tunnel.PortBase)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug from env, got %q", cfg.LogLevel)
	}
}

func TestMergeConfigs_ZeroValuesDoNotClobber(t *testing.T) {
	base := GetDefaultConfig()
	merged := mergeConfigs(base, Config{})

	if merged.Tunnel.PortBase != base.Tunnel.PortBase {
		t.Errorf("empty overlay changed port base: %d", merged.Tunnel.PortBase)
	}
	if merged.Server.Host != base.Server.Host {
		t.Errorf("empty overlay changed server host: %q", merged.Server.Host)
	}
}
