package config

import "time"

// Config is the top-level configuration structure for dbbridge.
type Config struct {
	LogLevel  string          `yaml:"logLevel,omitempty" envconfig:"LOG_LEVEL"`
	StorePath string          `yaml:"storePath,omitempty" envconfig:"STORE_PATH"`
	Tunnel    TunnelSettings  `yaml:"tunnel"`
	Monitor   MonitorSettings `yaml:"monitor"`
	Server    ServerSettings  `yaml:"server"`
}

// TunnelSettings controls local port allocation for tunnels.
type TunnelSettings struct {
	// PortBase is the first local port the allocator tries. Allocation scans
	// upward from here, skipping ports held by other tunnels.
	PortBase int `yaml:"portBase,omitempty" envconfig:"TUNNEL_PORT_BASE"`
	// PortMax bounds the scan so a runaway registry fails loudly instead of
	// walking the whole ephemeral range.
	PortMax int `yaml:"portMax,omitempty" envconfig:"TUNNEL_PORT_MAX"`
}

// MonitorSettings controls the idle monitor loop.
type MonitorSettings struct {
	Interval    time.Duration `yaml:"interval,omitempty" envconfig:"MONITOR_INTERVAL"`
	IdleTimeout time.Duration `yaml:"idleTimeout,omitempty" envconfig:"MONITOR_IDLE_TIMEOUT"`
	// StopTimeout is the hard timeout: tunnels idle longer than this are
	// stopped outright to free cluster-side port-forward streams.
	StopTimeout time.Duration `yaml:"stopTimeout,omitempty" envconfig:"MONITOR_STOP_TIMEOUT"`
}

// ServerSettings configures the MCP serving surface.
type ServerSettings struct {
	Host string `yaml:"host,omitempty" envconfig:"SERVER_HOST"`
	Port int    `yaml:"port,omitempty" envconfig:"SERVER_PORT"`
}
