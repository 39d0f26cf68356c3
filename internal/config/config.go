// Package config loads and hot-reloads the proxy's YAML configuration
// via viper, with environment variable overrides and a file-watcher
// that debounces rapid-fire fsnotify bursts before invoking a reload
// callback.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

const (
	DefaultPort = 19841
	DefaultHost = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond
	DefaultReloadDebounce = 500 * time.Millisecond

	EnvPrefix = "OLLA"
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults: a
// single local backend, a five-second health check, and pretty
// terminal logging.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // zero: don't cut off long-running streamed responses
			ShutdownTimeout: 10 * time.Second,
			Admin: AdminConfig{
				Enabled: true,
				Host:    DefaultHost,
				Port:    DefaultPort + 1,
			},
		},
		Proxy: ProxyConfig{
			LoadBalancer:      "peak-ewma",
			ConnectionTimeout: 10 * time.Second,
			ResponseTimeout:   10 * time.Minute,
			ReadTimeout:       120 * time.Second,
			StreamBufferSize:  64 * 1024,
			KeepAlive:         30 * time.Second,
		},
		Backends: BackendsConfig{
			Static: []BackendConfig{
				{Id: 1, Name: "local", Addr: "127.0.0.1:11434"},
			},
		},
		Ewma: EwmaConfig{
			InitialLatencyMs: 50,
			DecayAlpha:       0.5,
		},
		Health: HealthConfig{
			Interval:       5 * time.Second,
			ConnectTimeout: 1500 * time.Millisecond,
			Parallel:       true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenFor:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			PrettyLogs: true,
		},
	}
}

// Load reads configuration from ./config.yaml (or $OLLA_CONFIG_FILE),
// overlays OLLA_-prefixed environment variables, and - when
// onConfigChange is non-nil - watches the file for writes, debouncing
// bursts of fsnotify events into a single callback invocation.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv(EnvPrefix + "_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if onConfigChange != nil {
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < DefaultReloadDebounce {
				return // collapse a burst of events into one reload
			}
			lastReload = now

			// on some platforms the write event fires before the file
			// is fully flushed to disk
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate rejects configurations that would panic or misbehave at
// runtime rather than failing loudly at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &domain.ConfigValidationError{Field: "server.port", Value: c.Server.Port, Reason: "must be between 1 and 65535"}
	}
	if c.Proxy.LoadBalancer == "" {
		return &domain.ConfigValidationError{Field: "proxy.load_balancer", Value: c.Proxy.LoadBalancer, Reason: "must not be empty"}
	}
	if c.Ewma.InitialLatencyMs <= 0 {
		return &domain.ConfigValidationError{Field: "ewma.initial_latency_ms", Value: c.Ewma.InitialLatencyMs, Reason: "must be positive"}
	}
	if c.Ewma.DecayAlpha <= 0 || c.Ewma.DecayAlpha >= 1 {
		return &domain.ConfigValidationError{Field: "ewma.decay_alpha", Value: c.Ewma.DecayAlpha, Reason: "must be in (0, 1)"}
	}
	if c.Health.Interval <= c.Health.ConnectTimeout {
		return &domain.ConfigValidationError{Field: "health.interval", Value: c.Health.Interval, Reason: "must be greater than health.connect_timeout"}
	}
	for _, b := range c.Backends.Static {
		if b.Addr == "" {
			return &domain.ConfigValidationError{Field: "backends.static[].addr", Value: b.Name, Reason: "must not be empty"}
		}
	}
	return nil
}

// ToBackends converts the configured static backend set into domain
// backends, each seeded with a fresh Peak-EWMA tracker.
func (c *Config) ToBackends() []*domain.Backend {
	backends := make([]*domain.Backend, 0, len(c.Backends.Static))
	for _, b := range c.Backends.Static {
		state := domain.NewPeakEwmaState(c.Ewma.InitialLatencyMs, c.Ewma.DecayAlpha)
		backends = append(backends, domain.NewBackend(domain.BackendId(b.Id), b.Name, b.Addr, state))
	}
	return backends
}
