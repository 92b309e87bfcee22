package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		yamlContent string
		check       func(t *testing.T, cfg *Config)
		wantErr     string
	}{
		{
			name: "full_config",
			yamlContent: `server:
  address: ":9090"
provider:
  baseUrl: https://waka.example.com/api/v1
  timeout: 5s
  cacheTtl: 10m
sync:
  interval: 90s
  batchSize: 4
  batchDelay: 250ms
  daily:
    timezone: Asia/Tehran
    hour: 23
    minute: 59
database:
  host: db.internal
  port: 5432
  user: codepulse
  database: leaderboard
  sslMode: disable`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9090", cfg.Server.Address)
				assert.Equal(t, "https://waka.example.com/api/v1", cfg.Provider.BaseURL)
				assert.Equal(t, 5*time.Second, cfg.ProviderTimeout())
				assert.Equal(t, 10*time.Minute, cfg.ProviderCacheTTL())
				assert.Equal(t, 90*time.Second, cfg.SyncInterval())
				assert.Equal(t, 4, cfg.Sync.BatchSize)
				assert.Equal(t, 250*time.Millisecond, cfg.BatchDelay())
				require.NotNil(t, cfg.Sync.Daily)
				assert.Equal(t, "Asia/Tehran", cfg.Sync.Daily.Timezone)
				require.NotNil(t, cfg.Database)
				assert.Equal(t, "db.internal", cfg.Database.Host)
			},
		},
		{
			name:        "empty_config_gets_defaults",
			yamlContent: `{}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultAddress, cfg.Server.Address)
				assert.Equal(t, DefaultProviderBaseURL, cfg.Provider.BaseURL)
				assert.Equal(t, DefaultProviderTimeout, cfg.ProviderTimeout())
				assert.Equal(t, DefaultProviderCacheTTL, cfg.ProviderCacheTTL())
				assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval())
				assert.Equal(t, DefaultBatchSize, cfg.Sync.BatchSize)
				assert.Equal(t, DefaultBatchDelay, cfg.BatchDelay())
				require.NotNil(t, cfg.Sync.Daily)
				assert.Equal(t, DefaultDailyHour, cfg.Sync.Daily.Hour)
				assert.Equal(t, DefaultDailyMinute, cfg.Sync.Daily.Minute)
				assert.Nil(t, cfg.Database)
			},
		},
		{
			name: "invalid_interval",
			yamlContent: `sync:
  interval: soon`,
			wantErr: "sync.interval",
		},
		{
			name: "invalid_daily_hour",
			yamlContent: `sync:
  daily:
    hour: 24
    minute: 0`,
			wantErr: "sync.daily.hour",
		},
		{
			name: "invalid_daily_timezone",
			yamlContent: `sync:
  daily:
    timezone: Mars/Olympus
    hour: 23
    minute: 59`,
			wantErr: "sync.daily.timezone",
		},
		{
			name: "database_missing_host",
			yamlContent: `database:
  port: 5432
  user: codepulse
  database: leaderboard`,
			wantErr: "database.host",
		},
		{
			name: "batch_size_zero_defaults",
			yamlContent: `sync:
  batchSize: 0`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultBatchSize, cfg.Sync.BatchSize)
			},
		},
		{
			name: "negative_batch_size_rejected",
			yamlContent: `sync:
  batchSize: -3`,
			wantErr: "sync.batchSize",
		},
		{
			name:        "invalid_yaml",
			yamlContent: `sync: [`,
			wantErr:     "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfigFile(t, tt.yamlContent)

			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_PathRequired(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	require.Error(t, err)
}

func TestDatabaseConfig_GetPassword(t *testing.T) {
	tests := []struct {
		name         string
		passwordFile string
		envValue     string
		want         string
		wantErr      bool
	}{
		{
			name:         "from_file_trims_whitespace",
			passwordFile: "secret-password\n",
			want:         "secret-password",
		},
		{
			name:     "from_environment",
			envValue: "env-password",
			want:     "env-password",
		},
		{
			name:         "file_wins_over_environment",
			passwordFile: "file-password",
			envValue:     "env-password",
			want:         "file-password",
		},
		{
			name:    "nothing_configured",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbConfig := &DatabaseConfig{}
			if tt.passwordFile != "" {
				path := filepath.Join(t.TempDir(), "password")
				require.NoError(t, os.WriteFile(path, []byte(tt.passwordFile), 0o600))
				dbConfig.PasswordFile = path
			}
			if tt.envValue != "" {
				t.Setenv(PasswordEnvVar, tt.envValue)
			} else {
				t.Setenv(PasswordEnvVar, "")
			}

			got, err := dbConfig.GetPassword()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseConfig_PostgresConfig(t *testing.T) {
	t.Setenv(PasswordEnvVar, "pw")

	dbConfig := &DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "codepulse",
		Database: "leaderboard",
		SSLMode:  "disable",
		MaxConns: 8,
	}

	pgConfig, err := dbConfig.PostgresConfig()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", pgConfig.Host)
	assert.Equal(t, "pw", pgConfig.Password)
	assert.Equal(t, int32(8), pgConfig.MaxConns)
}
