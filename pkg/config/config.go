// Package config loads service configuration from defaults, an optional
// config file, environment variables and command-line flags, in that
// precedence order.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the pricefeed service.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Source      SourceConfig      `mapstructure:"source"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Management  ManagementConfig  `mapstructure:"management"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// CoordinatorConfig configures the singleton refresh loop.
type CoordinatorConfig struct {
	LockKey         string        `mapstructure:"lock_key"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
}

// RedisConfig configures the coordination store connection.
// An empty URL selects the in-process lock provider (single-instance mode).
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SourceConfig configures the remote price source.
type SourceConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	BearerToken string        `mapstructure:"bearer_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the durable result snapshot.
type CacheConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// ManagementConfig configures the management HTTP server.
type ManagementConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "pricefeed",
			Environment: "development",
		},
		Coordinator: CoordinatorConfig{
			LockKey:         "model-prices",
			LockTTL:         30 * time.Minute,
			RefreshInterval: 3 * time.Hour,
			CheckInterval:   time.Minute,
		},
		Redis: RedisConfig{
			Prefix:           "pricefeed",
			OperationTimeout: 3 * time.Second,
		},
		Source: SourceConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			SnapshotPath: "data/prices.snapshot.json",
		},
		Management: ManagementConfig{
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate enforces the relationships the coordinator's safety depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Name) == "" {
		return fmt.Errorf("service.name is required")
	}
	if c.Coordinator.LockTTL <= 0 {
		return fmt.Errorf("coordinator.lock_ttl must be > 0")
	}
	if c.Coordinator.RefreshInterval <= 0 {
		return fmt.Errorf("coordinator.refresh_interval must be > 0")
	}
	if c.Coordinator.CheckInterval <= 0 {
		return fmt.Errorf("coordinator.check_interval must be > 0")
	}
	if c.Coordinator.CheckInterval >= c.Coordinator.RefreshInterval {
		return fmt.Errorf("coordinator.check_interval must be shorter than coordinator.refresh_interval")
	}
	if strings.TrimSpace(c.Source.Endpoint) == "" {
		return fmt.Errorf("source.endpoint is required")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0")
	}
	// The refresh task runs against a deadline of 4/5 of the lock TTL; the
	// source timeout must fit inside that deadline or every slow fetch would
	// be abandoned before it can finish.
	if c.Source.Timeout >= c.Coordinator.LockTTL*4/5 {
		return fmt.Errorf("source.timeout must be shorter than 4/5 of coordinator.lock_ttl")
	}
	if c.Management.Port <= 0 || c.Management.Port > 65535 {
		return fmt.Errorf("management.port must be in (0, 65535]")
	}
	return nil
}
