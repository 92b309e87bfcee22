// Package store defines the durable storage contract for users, daily
// stat records, provider call logs and achievements. Implementations
// live in the postgres and inmemory subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when a user id does not exist.
var ErrUserNotFound = errors.New("user not found")

// User is a tracked leaderboard member. APIKey is the user's personal
// provider key; users whose trimmed key is empty are skipped by sync
// passes.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"-"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyStat is one user's activity total for one calendar day. The
// (UserID, DateKey) pair is the upsert key; last writer wins.
type DailyStat struct {
	UserID       uuid.UUID `json:"user_id"`
	DateKey      string    `json:"date_key"`
	TotalSeconds float64   `json:"total_seconds"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// LeaderboardEntry joins a daily stat with its user for presentation.
type LeaderboardEntry struct {
	User         User    `json:"user"`
	DateKey      string  `json:"date_key"`
	TotalSeconds float64 `json:"total_seconds"`
	Status       string  `json:"status"`
}

// ProviderLog is one append-only audit record of an outbound provider
// call attempt.
type ProviderLog struct {
	ID         uuid.UUID       `json:"id"`
	Provider   string          `json:"provider"`
	UserID     uuid.UUID       `json:"user_id"`
	Endpoint   string          `json:"endpoint"`
	RangeKey   string          `json:"range_key"`
	StatusCode int             `json:"status_code"`
	OK         bool            `json:"ok"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Achievement is one granted award, unique per (UserID, DateKey, Kind).
type Achievement struct {
	UserID    uuid.UUID `json:"user_id"`
	DateKey   string    `json:"date_key"`
	Kind      string    `json:"kind"`
	AwardedAt time.Time `json:"awarded_at"`
}

// Store is the durable storage collaborator used by the sync engine and
// the HTTP API.
type Store interface {
	// ListUsers returns all users, in creation order.
	ListUsers(ctx context.Context) ([]User, error)

	// GetUser returns one user or ErrUserNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (User, error)

	// CreateUser inserts a user. A zero ID is assigned server-side.
	CreateUser(ctx context.Context, user User) (User, error)

	// DeleteUser removes a user and their dependent rows.
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// SetTimezone persists a provider-reported timezone for a user.
	SetTimezone(ctx context.Context, id uuid.UUID, timezone string) error

	// UpsertDailyStat writes a daily stat record, replacing any
	// existing row for the same (user, date key).
	UpsertDailyStat(ctx context.Context, stat DailyStat) error

	// ListDailyStats returns the leaderboard for one date key, ordered
	// by total seconds descending.
	ListDailyStats(ctx context.Context, dateKey string) ([]LeaderboardEntry, error)

	// CreateProviderLog appends one provider call audit record.
	CreateProviderLog(ctx context.Context, entry ProviderLog) error

	// UpsertAchievement records an achievement grant. It returns true
	// when the grant is new and false when the same (user, date key,
	// kind) was already awarded, which is what makes awarding
	// idempotent.
	UpsertAchievement(ctx context.Context, achievement Achievement) (bool, error)

	// ListAchievements returns a user's achievements, newest first.
	ListAchievements(ctx context.Context, userID uuid.UUID) ([]Achievement, error)
}
