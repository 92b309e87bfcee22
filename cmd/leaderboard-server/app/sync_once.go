package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/codepulse/leaderboard-server/internal/achievements"
	"github.com/codepulse/leaderboard-server/internal/config"
	"github.com/codepulse/leaderboard-server/internal/errsink"
	"github.com/codepulse/leaderboard-server/internal/provider"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
)

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Run a single synchronization pass and exit",
	Long: `Run one synchronization pass over all registered users and exit. Useful
for cron-style deployments and for verifying provider connectivity.`,
	RunE: runSyncOnce,
}

func init() {
	syncOnceCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncOnceCmd.Flags().Bool("bypass-cache", false, "Force fresh provider fetches")

	if err := syncOnceCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	bypassCache, err := cmd.Flags().GetBool("bypass-cache")
	if err != nil {
		return fmt.Errorf("failed to get bypass-cache flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := provider.New(cfg.Provider.BaseURL,
		provider.WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout()}),
		provider.WithCacheTTL(cfg.ProviderCacheTTL()),
	)

	coordinator := syncengine.New(st, client, achievements.New(st), errsink.NewLogSink(nil),
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithBatchDelay(cfg.BatchDelay()),
	)

	coordinator.RunOnce(ctx, syncengine.Options{BypassCache: bypassCache})
	return nil
}
