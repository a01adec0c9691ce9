package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultConfigIsValidWithEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Endpoint = "https://prices.example.com/v1/prices"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults plus endpoint to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Source.Endpoint = "https://prices.example.com/v1/prices"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.Service.Name = "  " },
			wantErr: "service.name",
		},
		{
			name:    "zero lock ttl",
			mutate:  func(c *Config) { c.Coordinator.LockTTL = 0 },
			wantErr: "lock_ttl",
		},
		{
			name:    "zero refresh interval",
			mutate:  func(c *Config) { c.Coordinator.RefreshInterval = 0 },
			wantErr: "refresh_interval",
		},
		{
			name:    "zero check interval",
			mutate:  func(c *Config) { c.Coordinator.CheckInterval = 0 },
			wantErr: "check_interval",
		},
		{
			name: "check interval not shorter than refresh interval",
			mutate: func(c *Config) {
				c.Coordinator.CheckInterval = c.Coordinator.RefreshInterval
			},
			wantErr: "check_interval",
		},
		{
			name:    "missing source endpoint",
			mutate:  func(c *Config) { c.Source.Endpoint = "" },
			wantErr: "source.endpoint",
		},
		{
			name:    "zero source timeout",
			mutate:  func(c *Config) { c.Source.Timeout = 0 },
			wantErr: "source.timeout",
		},
		{
			name: "source timeout not shorter than lock ttl",
			mutate: func(c *Config) {
				c.Source.Timeout = c.Coordinator.LockTTL
			},
			wantErr: "source.timeout",
		},
		{
			name: "source timeout exceeds the task deadline",
			mutate: func(c *Config) {
				// Inside the TTL but past the 4/5 deadline the task runs under.
				c.Source.Timeout = c.Coordinator.LockTTL * 9 / 10
			},
			wantErr: "source.timeout",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Management.Port = 70000 },
			wantErr: "management.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoaderDefaults(t *testing.T) {
	t.Setenv("PRICEFEED_SOURCE_ENDPOINT", "https://prices.example.com/v1/prices")

	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Service.Name != "pricefeed" {
		t.Errorf("expected default service name, got %q", cfg.Service.Name)
	}
	if cfg.Coordinator.RefreshInterval != 3*time.Hour {
		t.Errorf("expected default refresh interval, got %v", cfg.Coordinator.RefreshInterval)
	}
	if cfg.Coordinator.LockKey != "model-prices" {
		t.Errorf("expected default lock key, got %q", cfg.Coordinator.LockKey)
	}
	if cfg.Management.Port != 9090 {
		t.Errorf("expected default management port, got %d", cfg.Management.Port)
	}
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("PRICEFEED_SOURCE_ENDPOINT", "https://prices.example.com/v1/prices")
	t.Setenv("PRICEFEED_COORDINATOR_REFRESH_INTERVAL", "90m")
	t.Setenv("PRICEFEED_REDIS_URL", "redis://redis.internal:6379/0")
	t.Setenv("PRICEFEED_LOG_LEVEL", "debug")

	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Coordinator.RefreshInterval != 90*time.Minute {
		t.Errorf("expected env refresh interval, got %v", cfg.Coordinator.RefreshInterval)
	}
	if cfg.Redis.URL != "redis://redis.internal:6379/0" {
		t.Errorf("expected env redis url, got %q", cfg.Redis.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env log level, got %q", cfg.Log.Level)
	}
}

func TestLoaderConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
service:
  name: pricefeed-staging
source:
  endpoint: https://prices.staging.example.com/v1/prices
coordinator:
  refresh_interval: 2h
  check_interval: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Service.Name != "pricefeed-staging" {
		t.Errorf("expected file service name, got %q", cfg.Service.Name)
	}
	if cfg.Coordinator.RefreshInterval != 2*time.Hour {
		t.Errorf("expected file refresh interval, got %v", cfg.Coordinator.RefreshInterval)
	}
	if cfg.Coordinator.CheckInterval != 30*time.Second {
		t.Errorf("expected file check interval, got %v", cfg.Coordinator.CheckInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Coordinator.LockTTL != 30*time.Minute {
		t.Errorf("expected default lock ttl, got %v", cfg.Coordinator.LockTTL)
	}
}

func TestLoaderMissingConfigFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoaderFlagOverrides(t *testing.T) {
	t.Setenv("PRICEFEED_SOURCE_ENDPOINT", "https://prices.example.com/v1/prices")
	t.Setenv("PRICEFEED_COORDINATOR_CHECK_INTERVAL", "5m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	args := []string{
		"--coordinator-check-interval=2m",
		"--management-port=8088",
	}
	if err := flags.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	cfg, err := NewLoader("").WithFlags(flags).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Flags outrank environment variables.
	if cfg.Coordinator.CheckInterval != 2*time.Minute {
		t.Errorf("expected flag check interval, got %v", cfg.Coordinator.CheckInterval)
	}
	if cfg.Management.Port != 8088 {
		t.Errorf("expected flag management port, got %d", cfg.Management.Port)
	}
	// Unchanged flags do not mask other sources.
	if cfg.Source.Endpoint != "https://prices.example.com/v1/prices" {
		t.Errorf("expected env endpoint to survive, got %q", cfg.Source.Endpoint)
	}
}

func TestLoaderValidationFailure(t *testing.T) {
	// No endpoint from any source.
	if _, err := NewLoader("").Load(); err == nil {
		t.Error("expected validation failure without a source endpoint")
	}
}

func TestFlagConfigFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse([]string{"--config=/etc/pricefeed/config.yaml"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	if got := FlagConfigFile(flags); got != "/etc/pricefeed/config.yaml" {
		t.Errorf("unexpected config path %q", got)
	}
	if got := FlagConfigFile(nil); got != "" {
		t.Errorf("expected empty path for nil flags, got %q", got)
	}
}
