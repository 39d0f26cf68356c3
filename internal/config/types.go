package config

import "time"

// Config holds all configuration for the proxy core.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Backends BackendsConfig `yaml:"backends"`
	Ewma     EwmaConfig     `yaml:"ewma"`
	Health   HealthConfig   `yaml:"health"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds front-side listener configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
	Admin           AdminConfig   `yaml:"admin"`
}

// TLSConfig holds the front-side TLS material. The core is agnostic to
// certificate formats - it only needs the two file paths.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AdminConfig controls the read-only admin control-plane endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProxyConfig holds request-path tuning.
type ProxyConfig struct {
	LoadBalancer      string        `yaml:"load_balancer"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	StreamBufferSize  int           `yaml:"stream_buffer_size"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
}

// BackendsConfig is the statically configured, hot-reloadable backend
// set. It is re-read by the config watcher and pushed into the routing
// table via RoutingTable.Replace.
type BackendsConfig struct {
	Static []BackendConfig `yaml:"static"`
}

// BackendConfig describes one upstream backend.
type BackendConfig struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	Id   uint32 `yaml:"id"`
}

// EwmaConfig seeds every backend's Peak-EWMA tracker.
type EwmaConfig struct {
	InitialLatencyMs float64 `yaml:"initial_latency_ms"`
	DecayAlpha       float64 `yaml:"decay_alpha"`
}

// HealthConfig controls the periodic TCP-connect health checker.
type HealthConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Parallel       bool          `yaml:"parallel"`
}

// BreakerConfig controls the passive, request-path circuit breaker
// that supplements the active health checker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenFor          time.Duration `yaml:"open_for"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}
