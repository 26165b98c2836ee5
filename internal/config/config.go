// Package config loads the agent configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the Citizenly offline agent.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Network NetworkConfig `mapstructure:"network"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type StorageConfig struct {
	// Path is the SQLite database file location.
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	MaxEntries      int           `mapstructure:"max_entries"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type SyncConfig struct {
	// BaseURL is the backend API root.
	BaseURL string `mapstructure:"base_url"`

	// Token is the bearer credential used when no session provider is
	// wired in (CLI usage).
	Token string `mapstructure:"token"`

	MaxRetries int           `mapstructure:"max_retries"`
	ItemDelay  time.Duration `mapstructure:"item_delay"`

	// FlushInterval is how often the scheduler retries a drain while
	// items are pending.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type NetworkConfig struct {
	// HealthPath is appended to sync.base_url for reachability probes.
	HealthPath    string        `mapstructure:"health_path"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is json or console.
	Format string `mapstructure:"format"`

	// File, when set, also writes rotated logs to this path.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Addr returns the listen address for the admin server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from the given YAML file. A missing file is
// not an error: defaults plus CITIZENLY_* environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CITIZENLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", ".citizenly/citizenly.db")

	v.SetDefault("cache.max_entries", 512)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanup_interval", time.Minute)

	v.SetDefault("sync.base_url", "http://localhost:3000")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.item_delay", 100*time.Millisecond)
	v.SetDefault("sync.flush_interval", 30*time.Second)

	v.SetDefault("network.health_path", "/api/health")
	v.SetDefault("network.probe_interval", 15*time.Second)
	v.SetDefault("network.probe_timeout", 5*time.Second)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8930)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
}
