package ocypod

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration, loaded from a YAML file.
// Every field has a usable default so the server can start with no
// config file at all.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. "0.0.0.0:8023".
	Addr string `yaml:"addr"`

	// MaxBodySize caps request bodies on endpoints that accept job
	// payloads or outputs, in bytes. Zero means no explicit limit.
	MaxBodySize int64 `yaml:"max_body_size"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	// URL is a redis connection URL, e.g. "redis://127.0.0.1:6379/0".
	URL string `yaml:"url"`

	// Workers is the number of goroutines that serialize access to
	// the Redis client. Zero means one per logical CPU.
	Workers int `yaml:"workers"`
}

// MonitorConfig holds settings for the background monitor.
type MonitorConfig struct {
	// Interval is how often the monitor checks running jobs for
	// missed heartbeats and exceeded timeouts, and reaps expired
	// ended jobs. Ticks never overlap; a tick is skipped while the
	// previous one is still running.
	Interval Duration `yaml:"interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8023",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			URL:     "redis://127.0.0.1:6379/0",
			Workers: runtime.NumCPU(),
		},
		Monitor: MonitorConfig{
			Interval: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads and validates a YAML config file. Fields absent
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run
// with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("config: server.max_body_size must not be negative")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url must not be empty")
	}
	if c.Redis.Workers < 0 {
		return fmt.Errorf("config: redis.workers must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("config: monitor.interval must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return nil
}
