package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/codepulse/leaderboard-server/internal/config"
	"github.com/codepulse/leaderboard-server/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all database migrations to bring the schema up to date. Reads
database connection parameters from the config file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(cmd, postgres.MigrateUp, "apply migrations to")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Long: `Roll back the database schema. This drops the leaderboard tables and
their data; use with care.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(cmd, postgres.MigrateDown, "ROLL BACK the schema of")
	},
}

func runMigrate(cmd *cobra.Command, migrate func(context.Context, *pgxpool.Pool) error, action string) error {
	ctx := context.Background()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if !yes {
		fmt.Printf("About to %s database: %s@%s:%d/%s\nContinue? (yes/no): ",
			action, cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read user input: %w", err)
		}
		if response != "yes" && response != "y" {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	pgConfig, err := cfg.Database.PostgresConfig()
	if err != nil {
		return err
	}
	pool, err := postgres.Connect(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	slog.Info("Running database migrations...")
	if err := migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Migrations completed successfully")
	return nil
}
