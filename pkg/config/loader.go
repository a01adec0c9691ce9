package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PRICEFEED"

// Loader resolves configuration from defaults, an optional file, environment
// variables (PRICEFEED_ prefix, dots become underscores) and bound flags.
type Loader struct {
	configFile string
	flags      *pflag.FlagSet
}

// NewLoader creates a loader. configFile may be empty.
func NewLoader(configFile string) *Loader {
	return &Loader{configFile: configFile}
}

// WithFlags binds a parsed flag set whose names mirror config keys
// (dots replaced by dashes, e.g. --coordinator-refresh-interval).
func (l *Loader) WithFlags(flags *pflag.FlagSet) *Loader {
	l.flags = flags
	return l
}

// Load resolves and validates the effective configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.flags != nil {
		for _, key := range configKeys() {
			flagName := strings.ReplaceAll(key, ".", "-")
			flag := l.flags.Lookup(flagName)
			if flag == nil || !flag.Changed {
				continue
			}
			v.Set(key, flag.Value.String())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// RegisterFlags declares the override flags on the given flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String("config", "", "path to config file")
	flags.String("service-name", defaults.Service.Name, "service name")
	flags.String("redis-url", "", "coordination store URL (empty selects in-process locking)")
	flags.String("source-endpoint", "", "remote price source endpoint")
	flags.String("source-bearer-token", "", "bearer token for the price source")
	flags.Duration("source-timeout", defaults.Source.Timeout, "remote fetch timeout")
	flags.String("coordinator-lock-key", defaults.Coordinator.LockKey, "fleet-wide lock key")
	flags.Duration("coordinator-lock-ttl", defaults.Coordinator.LockTTL, "lock record TTL")
	flags.Duration("coordinator-refresh-interval", defaults.Coordinator.RefreshInterval, "catalog staleness threshold")
	flags.Duration("coordinator-check-interval", defaults.Coordinator.CheckInterval, "freshness re-check interval")
	flags.String("cache-snapshot-path", defaults.Cache.SnapshotPath, "durable snapshot file path")
	flags.Int("management-port", defaults.Management.Port, "management HTTP port")
	flags.String("log-level", defaults.Log.Level, "log level (debug|info|warn|error)")
	flags.String("log-format", defaults.Log.Format, "log format (json|text)")
}

func configKeys() []string {
	return []string{
		"service.name",
		"redis.url",
		"source.endpoint",
		"source.bearer_token",
		"source.timeout",
		"coordinator.lock_key",
		"coordinator.lock_ttl",
		"coordinator.refresh_interval",
		"coordinator.check_interval",
		"cache.snapshot_path",
		"management.port",
		"log.level",
		"log.format",
	}
}

func setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("service.name", defaults.Service.Name)
	v.SetDefault("service.environment", defaults.Service.Environment)
	v.SetDefault("coordinator.lock_key", defaults.Coordinator.LockKey)
	v.SetDefault("coordinator.lock_ttl", defaults.Coordinator.LockTTL)
	v.SetDefault("coordinator.refresh_interval", defaults.Coordinator.RefreshInterval)
	v.SetDefault("coordinator.check_interval", defaults.Coordinator.CheckInterval)
	v.SetDefault("redis.url", defaults.Redis.URL)
	v.SetDefault("redis.prefix", defaults.Redis.Prefix)
	v.SetDefault("redis.operation_timeout", defaults.Redis.OperationTimeout)
	v.SetDefault("source.endpoint", defaults.Source.Endpoint)
	v.SetDefault("source.bearer_token", defaults.Source.BearerToken)
	v.SetDefault("source.timeout", defaults.Source.Timeout)
	v.SetDefault("cache.snapshot_path", defaults.Cache.SnapshotPath)
	v.SetDefault("management.port", defaults.Management.Port)
	v.SetDefault("management.read_timeout", defaults.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", defaults.Management.WriteTimeout)
	v.SetDefault("management.idle_timeout", defaults.Management.IdleTimeout)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// FlagConfigFile extracts the --config flag value, used before full loading.
func FlagConfigFile(flags *pflag.FlagSet) string {
	if flags == nil {
		return ""
	}
	flag := flags.Lookup("config")
	if flag == nil {
		return ""
	}
	return flag.Value.String()
}
