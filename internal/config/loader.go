package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const (
	userConfigDir  = ".config/dbbridge"
	configFileName = "config.yaml"
	storeFileName  = "dbbridge.db"
	envPrefix      = "DBBRIDGE"
)

// LoadConfig loads the dbbridge configuration by layering defaults, the user
// config file and DBBRIDGE_* environment variables, in that order.
func LoadConfig() (Config, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional; fall through to env overrides.
		fmt.Fprintf(os.Stderr, "Warning: could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			fileConfig, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading config from %s: %w", userConfigPath, err)
			}
			config = mergeConfigs(config, fileConfig)
		}
	}

	if err := envconfig.Process(envPrefix, &config); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	if config.StorePath == "" {
		homeDir, err := osUserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("could not resolve store path: %w", err)
		}
		config.StorePath = filepath.Join(homeDir, userConfigDir, storeFileName)
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return config, nil
}

// mergeConfigs overlays non-zero fields of overlay onto base.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.StorePath != "" {
		merged.StorePath = overlay.StorePath
	}
	if overlay.Tunnel.PortBase != 0 {
		merged.Tunnel.PortBase = overlay.Tunnel.PortBase
	}
	if overlay.Tunnel.PortMax != 0 {
		merged.Tunnel.PortMax = overlay.Tunnel.PortMax
	}
	if overlay.Monitor.Interval != 0 {
		merged.Monitor.Interval = overlay.Monitor.Interval
	}
	if overlay.Monitor.IdleTimeout != 0 {
		merged.Monitor.IdleTimeout = overlay.Monitor.IdleTimeout
	}
	if overlay.Monitor.StopTimeout != 0 {
		merged.Monitor.StopTimeout = overlay.Monitor.StopTimeout
	}
	if overlay.Server.Host != "" {
		merged.Server.Host = overlay.Server.Host
	}
	if overlay.Server.Port != 0 {
		merged.Server.Port = overlay.Server.Port
	}

	return merged
}
