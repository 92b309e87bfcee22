package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codepulse/leaderboard-server/internal/achievements"
	"github.com/codepulse/leaderboard-server/internal/api"
	"github.com/codepulse/leaderboard-server/internal/config"
	"github.com/codepulse/leaderboard-server/internal/errsink"
	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/scheduler"
	"github.com/codepulse/leaderboard-server/internal/store"
	"github.com/codepulse/leaderboard-server/internal/store/inmemory"
	"github.com/codepulse/leaderboard-server/internal/store/postgres"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
	"github.com/codepulse/leaderboard-server/internal/telemetry"
	"github.com/codepulse/leaderboard-server/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the leaderboard server",
	Long: `Start the leaderboard server.

Without a configuration file (--config) the server runs with defaults and
the in-memory store, which is convenient for local development. With a
database section configured, state is persisted to PostgreSQL.

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}
}

// loadServerConfig loads the config file named by --config, or returns
// defaults when no file is given.
func loadServerConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		slog.Info("No config file provided, using defaults with the in-memory store")
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", path, "persistent", cfg.Database != nil)
	return cfg, nil
}

// buildStore selects the storage backend: PostgreSQL when configured,
// the in-memory store otherwise. The returned func releases the backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database == nil {
		return inmemory.New(), func() {}, nil
	}

	pgConfig, err := cfg.Database.PostgresConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.Connect(ctx, pgConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.New(pool), pool.Close, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Server.Address
	}

	meter, err := telemetry.NewMeter(telemetry.WithMeterServiceVersion(version.Version))
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	syncMetrics, err := telemetry.NewSyncMetrics(meter.Provider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	providerMetrics, err := telemetry.NewProviderMetrics(meter.Provider)
	if err != nil {
		return fmt.Errorf("failed to create provider metrics: %w", err)
	}

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := provider.New(cfg.Provider.BaseURL,
		provider.WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout()}),
		provider.WithCacheTTL(cfg.ProviderCacheTTL()),
		provider.WithMetrics(providerMetrics),
	)

	coordinator := syncengine.New(st, client, achievements.New(st), errsink.NewLogSink(nil),
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithBatchDelay(cfg.BatchDelay()),
		syncengine.WithMetrics(syncMetrics),
	)

	sched := scheduler.New(coordinator,
		scheduler.WithInterval(cfg.SyncInterval()),
		scheduler.WithDailyPin(scheduler.DailyPin{
			Timezone: cfg.Sync.Daily.Timezone,
			Hour:     cfg.Sync.Daily.Hour,
			Minute:   cfg.Sync.Daily.Minute,
		}),
	)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	go func() {
		if err := sched.Start(schedCtx); err != nil {
			slog.Error("Scheduler failed", "error", err)
		}
	}()

	router := api.NewServer(st, coordinator, client,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
		api.WithMetricsHandler(meter.Handler()),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Stop prevents further scheduled passes and waits for any pass in
	// flight to finish.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	if err := meter.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down metrics", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}
