package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricefeed/pricefeed/pkg/cache"
	"github.com/pricefeed/pricefeed/pkg/config"
	"github.com/pricefeed/pricefeed/pkg/coordination"
	"github.com/pricefeed/pricefeed/pkg/coordinator"
	"github.com/pricefeed/pricefeed/pkg/health"
	"github.com/pricefeed/pricefeed/pkg/observability/logger"
	"github.com/pricefeed/pricefeed/pkg/pricing"
	"github.com/pricefeed/pricefeed/pkg/server"
	"github.com/pricefeed/pricefeed/pkg/version"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pricefeedd",
		Short:         "Cluster-wide singleton coordinator for the model price catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newRefreshCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh coordinator and management server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg, log)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force one refresh attempt and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(cmd)
			if err != nil {
				return err
			}
			return runRefreshOnce(cmd.Context(), cfg, log)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.Current("pricefeed").String())
		},
	}
}

func loadConfigAndLogger(cmd *cobra.Command) (*config.Config, *logger.ZapLogger, error) {
	cfg, err := config.NewLoader(config.FlagConfigFile(cmd.Flags())).
		WithFlags(cmd.Flags()).
		Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := logger.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func buildCoordinator(cfg *config.Config, log logger.Logger) (*coordinator.Coordinator, coordination.Store, *cache.ResultCache, error) {
	var lockProvider coordination.Store
	if cfg.Redis.URL != "" {
		redisProvider, err := coordination.NewRedisLockProvider(coordination.RedisLockProviderConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		lockProvider = redisProvider
	} else {
		log.Warn("no coordination store configured, using in-process locking (single-instance mode)")
		lockProvider = coordination.NewMemoryLockProvider()
	}

	fetcher, err := pricing.NewHTTPFetcher(pricing.HTTPFetcherConfig{
		Endpoint:    cfg.Source.Endpoint,
		BearerToken: cfg.Source.BearerToken,
		Timeout:     cfg.Source.Timeout,
	})
	if err != nil {
		lockProvider.Close()
		return nil, nil, nil, err
	}

	resultCache, err := cache.NewResultCache(cfg.Cache.SnapshotPath, log)
	if err != nil {
		lockProvider.Close()
		return nil, nil, nil, err
	}

	coord, err := coordinator.New(lockProvider, fetcher, resultCache, log, coordinator.Config{
		LockKey:         cfg.Coordinator.LockKey,
		LockTTL:         cfg.Coordinator.LockTTL,
		RefreshInterval: cfg.Coordinator.RefreshInterval,
		CheckInterval:   cfg.Coordinator.CheckInterval,
	})
	if err != nil {
		lockProvider.Close()
		return nil, nil, nil, err
	}
	return coord, lockProvider, resultCache, nil
}

func runServe(cfg *config.Config, log *logger.ZapLogger) error {
	defer log.Sync()

	log.Info("starting pricefeed", "version", version.Current(cfg.Service.Name).String(),
		"environment", cfg.Service.Environment)

	coord, lockProvider, resultCache, err := buildCoordinator(cfg, log)
	if err != nil {
		return err
	}
	defer lockProvider.Close()

	registry := health.NewRegistry()
	registry.Register(health.NewPingChecker("liveness"))
	registry.Register(coord.StoreHealthChecker("coordination-store", 5*time.Second))
	registry.Register(coord.HealthChecker("coordinator"))

	handlers := server.NewHandlers(resultCache, coord, registry, log, cfg.Service.Name)
	srv := server.New(server.Config{
		Port:         cfg.Management.Port,
		ReadTimeout:  cfg.Management.ReadTimeout,
		WriteTimeout: cfg.Management.WriteTimeout,
		IdleTimeout:  cfg.Management.IdleTimeout,
	}, handlers.Router(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	go func() { errChan <- coord.Run(ctx) }()
	go func() { errChan <- srv.Start(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}

func runRefreshOnce(ctx context.Context, cfg *config.Config, log *logger.ZapLogger) error {
	defer log.Sync()

	coord, lockProvider, _, err := buildCoordinator(cfg, log)
	if err != nil {
		return err
	}
	defer lockProvider.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	attempt := coord.ForceRefresh(ctx)

	encoded, err := json.MarshalIndent(attempt, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if attempt.Outcome == coordinator.OutcomeTaskFailed {
		return fmt.Errorf("refresh failed: %s", attempt.Error)
	}
	return nil
}
