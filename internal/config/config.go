package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig holds remote backend configuration
type BackendConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds local storage configuration
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabaseFile string `yaml:"database_file"`
}

// CacheConfig holds cache freshness configuration
type CacheConfig struct {
	ReadTTL     time.Duration `yaml:"read_ttl"`
	ResponseTTL time.Duration `yaml:"response_ttl"`
}

// SyncConfig holds orchestrator configuration
type SyncConfig struct {
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	FlushOnWrite bool          `yaml:"flush_on_write"`
}

// HealthConfig holds backend reachability probe configuration
type HealthConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the sync engine
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Sync    SyncConfig    `yaml:"sync"`
	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// backend endpoint. Every read and write still works locally; flushes
// report pending until a URL is configured.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = 20 * time.Second
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.DatabaseFile == "" {
		cfg.Storage.DatabaseFile = cfg.Storage.DataDir + "/rentwing.db"
	}
	if cfg.Cache.ReadTTL == 0 {
		cfg.Cache.ReadTTL = 5 * time.Minute
	}
	if cfg.Cache.ResponseTTL == 0 {
		cfg.Cache.ResponseTTL = 2 * time.Minute
	}
	if cfg.Sync.TaskTimeout == 0 {
		cfg.Sync.TaskTimeout = 30 * time.Second
	}
	if cfg.Health.ProbeInterval == 0 {
		cfg.Health.ProbeInterval = 30 * time.Second
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 5 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9190"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.URL != "" && !strings.HasPrefix(c.Backend.URL, "http") {
		return fmt.Errorf("backend.url must be an http(s) URL")
	}
	if c.Storage.DatabaseFile == "" {
		return fmt.Errorf("storage.database_file is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
