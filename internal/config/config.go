// Package config provides configuration loading for the leaderboard
// server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codepulse/leaderboard-server/internal/store/postgres"
)

// PasswordEnvVar is consulted when the database password is not
// provided through a file.
const PasswordEnvVar = "CODEPULSE_DATABASE_PASSWORD"

// Defaults applied by Default() and by LoadConfig for omitted fields.
const (
	DefaultAddress          = ":8080"
	DefaultProviderBaseURL  = "https://wakatime.com/api/v1"
	DefaultProviderTimeout  = 10 * time.Second
	DefaultProviderCacheTTL = 5 * time.Minute
	DefaultSyncInterval     = 2 * time.Minute
	DefaultBatchSize        = 10
	DefaultBatchDelay       = time.Second
	DefaultDailyHour        = 23
	DefaultDailyMinute      = 59
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server   ServerConfig    `yaml:"server,omitempty"`
	Provider ProviderConfig  `yaml:"provider,omitempty"`
	Sync     SyncConfig      `yaml:"sync,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// ServerConfig defines the HTTP API listener settings
type ServerConfig struct {
	// Address is the listen address, for example ":8080"
	Address string `yaml:"address,omitempty"`
}

// ProviderConfig defines how the upstream activity provider is reached
type ProviderConfig struct {
	// BaseURL is the provider API root, without a trailing slash
	BaseURL string `yaml:"baseUrl,omitempty"`

	// Timeout bounds each provider HTTP request (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	// CacheTTL is how long a fetched result stays fresh (e.g. "5m").
	// Cached results additionally expire at the UTC day boundary.
	CacheTTL string `yaml:"cacheTtl,omitempty"`
}

// SyncConfig defines the pass cadence and per-pass pacing
type SyncConfig struct {
	// Interval between regular sync passes (e.g. "2m")
	Interval string `yaml:"interval,omitempty"`

	// BatchSize is how many users are fetched concurrently per group
	BatchSize int `yaml:"batchSize,omitempty"`

	// BatchDelay is the pause between dispatch groups (e.g. "1s")
	BatchDelay string `yaml:"batchDelay,omitempty"`

	// Daily pins the once-a-day bypass-cache run
	Daily *DailyConfig `yaml:"daily,omitempty"`
}

// DailyConfig pins the once-daily run to a local wall-clock time
type DailyConfig struct {
	// Timezone is an IANA zone name; empty means UTC
	Timezone string `yaml:"timezone,omitempty"`
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
}

// DatabaseConfig defines database connection settings. When the whole
// section is omitted the server runs on the in-memory store.
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the connection pool size
	MaxConns int32 `yaml:"maxConns,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the CODEPULSE_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or the %s environment variable",
		PasswordEnvVar,
	)
}

// PostgresConfig resolves the password and maps the section onto the
// store's connection settings.
func (d *DatabaseConfig) PostgresConfig() (postgres.Config, error) {
	password, err := d.GetPassword()
	if err != nil {
		return postgres.Config{}, err
	}
	return postgres.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: password,
		Database: d.Database,
		SSLMode:  d.SSLMode,
		MaxConns: d.MaxConns,
	}, nil
}

// Default returns a configuration with every field at its default,
// suitable for running against the in-memory store.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: DefaultAddress},
		Provider: ProviderConfig{
			BaseURL:  DefaultProviderBaseURL,
			Timeout:  DefaultProviderTimeout.String(),
			CacheTTL: DefaultProviderCacheTTL.String(),
		},
		Sync: SyncConfig{
			Interval:   DefaultSyncInterval.String(),
			BatchSize:  DefaultBatchSize,
			BatchDelay: DefaultBatchDelay.String(),
			Daily: &DailyConfig{
				Hour:   DefaultDailyHour,
				Minute: DefaultDailyMinute,
			},
		},
	}
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in every omitted field.
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = DefaultProviderBaseURL
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = DefaultProviderTimeout.String()
	}
	if c.Provider.CacheTTL == "" {
		c.Provider.CacheTTL = DefaultProviderCacheTTL.String()
	}
	if c.Sync.Interval == "" {
		c.Sync.Interval = DefaultSyncInterval.String()
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.BatchDelay == "" {
		c.Sync.BatchDelay = DefaultBatchDelay.String()
	}
	if c.Sync.Daily == nil {
		c.Sync.Daily = &DailyConfig{
			Hour:   DefaultDailyHour,
			Minute: DefaultDailyMinute,
		}
	}
}

// ProviderTimeout returns the parsed provider request timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return parseDurationOr(c.Provider.Timeout, DefaultProviderTimeout)
}

// ProviderCacheTTL returns the parsed provider cache TTL.
func (c *Config) ProviderCacheTTL() time.Duration {
	return parseDurationOr(c.Provider.CacheTTL, DefaultProviderCacheTTL)
}

// SyncInterval returns the parsed regular pass interval.
func (c *Config) SyncInterval() time.Duration {
	return parseDurationOr(c.Sync.Interval, DefaultSyncInterval)
}

// BatchDelay returns the parsed inter-group pause.
func (c *Config) BatchDelay() time.Duration {
	return parseDurationOr(c.Sync.BatchDelay, DefaultBatchDelay)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if _, err := url.Parse(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.baseUrl must be a valid URL: %w", err)
	}
	if err := validateDuration(c.Provider.Timeout, "provider.timeout"); err != nil {
		return err
	}
	if err := validateDuration(c.Provider.CacheTTL, "provider.cacheTtl"); err != nil {
		return err
	}
	if err := validateDuration(c.Sync.Interval, "sync.interval"); err != nil {
		return err
	}
	if err := validateDuration(c.Sync.BatchDelay, "sync.batchDelay"); err != nil {
		return err
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batchSize must be at least 1")
	}

	if err := validateDaily(c.Sync.Daily); err != nil {
		return err
	}

	return c.validateDatabase()
}

func validateDuration(raw, field string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g. '30s', '2m'): %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

func validateDaily(daily *DailyConfig) error {
	if daily.Hour < 0 || daily.Hour > 23 {
		return fmt.Errorf("sync.daily.hour must be between 0 and 23, got %d", daily.Hour)
	}
	if daily.Minute < 0 || daily.Minute > 59 {
		return fmt.Errorf("sync.daily.minute must be between 0 and 59, got %d", daily.Minute)
	}
	// An unknown timezone is tolerated at runtime (the scheduler
	// degrades to a 24-hour delay) but rejected up front when it is
	// explicitly configured.
	if daily.Timezone != "" {
		if _, err := time.LoadLocation(daily.Timezone); err != nil {
			return fmt.Errorf("sync.daily.timezone is not a valid IANA zone: %w", err)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database == nil {
		return nil
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}
