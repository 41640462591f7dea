package config

import "time"

// GetDefaultConfig returns the built-in configuration dbbridge starts from
// before layering the user config file and environment overrides.
func GetDefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		StorePath: "", // resolved to ~/.config/dbbridge/dbbridge.db by the loader
		Tunnel: TunnelSettings{
			PortBase: 15000,
			PortMax:  16000,
		},
		Monitor: MonitorSettings{
			Interval:    45 * time.Second,
			IdleTimeout: 15 * time.Minute,
			StopTimeout: 30 * time.Minute,
		},
		Server: ServerSettings{
			Host: "localhost",
			Port: 8090,
		},
	}
}
