// Package postgres provides the pgx-backed Store implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codepulse/leaderboard-server/internal/store"
)

const (
	defaultMaxConns       = 10
	defaultConnectTimeout = 10 * time.Second
	defaultSSLMode        = "require"

	// connectMaxElapsed bounds how long Connect retries a failing
	// database before giving up, for example while Postgres is still
	// starting alongside us.
	connectMaxElapsed = 30 * time.Second
)

// Config holds the database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN renders the config as a pgx connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		c.User, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database, sslMode,
	)
}

// Validate checks the required connection fields.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// Connect opens a connection pool, retrying with exponential backoff
// until the database answers a ping or the retry budget is exhausted.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database configuration: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			slog.Warn("Database not ready, retrying", "host", cfg.Host, "error", err)
			return nil, err
		}
		return pool, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectMaxElapsed))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	slog.Info("Connected to database", "host", cfg.Host, "database", cfg.Database)
	return pool, nil
}

// pgStore implements store.Store on a pgx connection pool.
type pgStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*pgStore)(nil)

// New wraps a connection pool in a Store.
func New(pool *pgxpool.Pool) store.Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, api_key, timezone, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Name, &u.APIKey, &u.Timezone, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *pgStore) GetUser(ctx context.Context, id uuid.UUID) (store.User, error) {
	var u store.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, api_key, timezone, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.APIKey, &u.Timezone, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, store.ErrUserNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *pgStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, api_key, timezone, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Name, user.APIKey, user.Timezone, user.CreatedAt)
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *pgStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *pgStore) SetTimezone(ctx context.Context, id uuid.UUID, timezone string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET timezone = $2 WHERE id = $1`, id, timezone)
	if err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *pgStore) UpsertDailyStat(ctx context.Context, stat store.DailyStat) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO daily_stats (user_id, date_key, total_seconds, status, error, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, date_key) DO UPDATE SET
		     total_seconds = EXCLUDED.total_seconds,
		     status = EXCLUDED.status,
		     error = EXCLUDED.error,
		     fetched_at = EXCLUDED.fetched_at`,
		stat.UserID, stat.DateKey, stat.TotalSeconds, stat.Status, stat.Error, stat.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

func (s *pgStore) ListDailyStats(ctx context.Context, dateKey string) ([]store.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.timezone, u.created_at, d.date_key, d.total_seconds, d.status
		 FROM daily_stats d
		 JOIN users u ON u.id = d.user_id
		 WHERE d.date_key = $1
		 ORDER BY d.total_seconds DESC, u.name`, dateKey)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var entries []store.LeaderboardEntry
	for rows.Next() {
		var e store.LeaderboardEntry
		if err := rows.Scan(
			&e.User.ID, &e.User.Name, &e.User.Timezone, &e.User.CreatedAt,
			&e.DateKey, &e.TotalSeconds, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	return entries, nil
}

func (s *pgStore) CreateProviderLog(ctx context.Context, entry store.ProviderLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	// Payload may be arbitrary bytes when the provider returned
	// non-JSON; those are stored as a JSON string to keep the column
	// JSONB.
	payload := entry.Payload
	if len(payload) > 0 && !json.Valid(payload) {
		quoted := strconv.Quote(string(payload))
		payload = []byte(quoted)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_logs (id, provider, user_id, endpoint, range_key, status_code, ok, payload, error, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Provider, entry.UserID, entry.Endpoint, entry.RangeKey,
		entry.StatusCode, entry.OK, payload, entry.Error, entry.FetchedAt)
	if err != nil {
		return fmt.Errorf("create provider log: %w", err)
	}
	return nil
}

func (s *pgStore) UpsertAchievement(ctx context.Context, achievement store.Achievement) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO achievements (user_id, date_key, kind, awarded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, date_key, kind) DO NOTHING`,
		achievement.UserID, achievement.DateKey, achievement.Kind, achievement.AwardedAt)
	if err != nil {
		return false, fmt.Errorf("upsert achievement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) ListAchievements(ctx context.Context, userID uuid.UUID) ([]store.Achievement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, date_key, kind, awarded_at FROM achievements
		 WHERE user_id = $1 ORDER BY awarded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var achievements []store.Achievement
	for rows.Next() {
		var a store.Achievement
		if err := rows.Scan(&a.UserID, &a.DateKey, &a.Kind, &a.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		achievements = append(achievements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return achievements, nil
}
