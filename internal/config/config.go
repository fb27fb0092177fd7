// Package config provides hierarchical configuration loading for cellbox.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the cellbox control plane.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Cache        Cache        `yaml:"cache"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Breaker      Breaker      `yaml:"breaker"`
	Provisioner  Provisioner  `yaml:"provisioner"`
	Supervisor   Supervisor   `yaml:"supervisor"`
	Continuation Continuation `yaml:"continuation"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds PostgreSQL connection configuration.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// NATS holds the agent runtime bridge connection configuration.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Cache holds the in-process status cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	MetricsEndpoint string `yaml:"metrics_endpoint"` // host:port OTLP/gRPC; empty disables export
}

// Breaker holds circuit breaker configuration for bridge sends.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Provisioner holds cell provisioning configuration.
type Provisioner struct {
	MaxParallel   int           `yaml:"max_parallel"`   // concurrent provisioning runs (default: 4)
	StepTimeout   time.Duration `yaml:"step_timeout"`   // per-step bound (default: 2m)
	WorkspaceRoot string        `yaml:"workspace_root"` // parent dir for cell workspaces
}

// Supervisor holds service reconciliation configuration.
type Supervisor struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Continuation holds todo continuation enforcement configuration.
type Continuation struct {
	CheckDelay time.Duration `yaml:"check_delay"` // idle debounce before a check fires
}
