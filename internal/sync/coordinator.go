package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codepulse/leaderboard-server/internal/batch"
	"github.com/codepulse/leaderboard-server/internal/errsink"
	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/store"
	"github.com/codepulse/leaderboard-server/internal/telemetry"
	"github.com/codepulse/leaderboard-server/internal/timeutil"
)

// ProviderName tags daily stats and provider logs with their origin.
const ProviderName = "wakatime"

// Options tunes one synchronization pass.
type Options struct {
	// BypassCache forces fresh provider fetches for every user. The
	// daily pinned run uses this to guarantee one uncached read per
	// day.
	BypassCache bool
}

// ProviderClient is the slice of the provider client the Coordinator
// consumes.
type ProviderClient interface {
	FetchDailyStatus(ctx context.Context, identity, apiKey string, opts provider.FetchOptions) (*provider.Result, error)
}

// AwardEvent carries everything the achievement awarder needs to decide
// whether a result earns a new award.
type AwardEvent struct {
	UserID       uuid.UUID
	DateKey      string
	Status       provider.Status
	TotalSeconds float64
	Payload      json.RawMessage
	FetchedAt    time.Time
}

// Awarder evaluates achievement rules for one result. Implementations
// must be idempotent per (UserID, DateKey): the Coordinator invokes it
// for every result, including cache hits, and treats it as the
// authority on whether a reward is newly granted.
type Awarder interface {
	Award(ctx context.Context, event AwardEvent) error
}

// Coordinator orchestrates synchronization passes. Construct with New;
// the zero value is not usable.
type Coordinator struct {
	store   store.Store
	client  ProviderClient
	awarder Awarder
	sink    errsink.Sink
	clock   quartz.Clock
	metrics *telemetry.SyncMetrics

	batchSize  int
	batchDelay time.Duration

	// running is the reentrancy guard: at most one RunOnce per
	// Coordinator instance, regardless of which timer fired it.
	running atomic.Bool
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source (for tests).
func WithClock(clock quartz.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithBatchSize overrides how many users are fetched concurrently.
func WithBatchSize(size int) Option {
	return func(c *Coordinator) {
		c.batchSize = size
	}
}

// WithBatchDelay overrides the pause between dispatch groups.
func WithBatchDelay(delay time.Duration) Option {
	return func(c *Coordinator) {
		c.batchDelay = delay
	}
}

// WithMetrics attaches sync pass metrics. Nil-safe.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// New creates a Coordinator with injected collaborators. sink may be
// nil, in which case contained failures go to the default slog logger.
func New(st store.Store, client ProviderClient, awarder Awarder, sink errsink.Sink, opts ...Option) *Coordinator {
	if sink == nil {
		sink = errsink.NewLogSink(nil)
	}
	c := &Coordinator{
		store:      st,
		client:     client,
		awarder:    awarder,
		sink:       sink,
		clock:      quartz.NewReal(),
		batchSize:  batch.DefaultBatchSize,
		batchDelay: batch.DefaultDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce executes one full synchronization pass across all eligible
// users. A call received while a pass is in flight is a silent no-op.
func (c *Coordinator) RunOnce(ctx context.Context, opts Options) {
	if !c.running.CompareAndSwap(false, true) {
		slog.Debug("Sync pass already in flight, skipping trigger")
		return
	}
	defer c.running.Store(false)

	start := c.clock.Now()

	users, err := c.store.ListUsers(ctx)
	if err != nil {
		c.sink.Report(ctx, "sync.list_users", fmt.Errorf("list users: %w", err))
		c.metrics.RecordPassDuration(ctx, c.clock.Now().Sub(start), false)
		return
	}

	eligible := eligibleUsers(users)
	slog.Info("Starting sync pass",
		"user_count", len(eligible),
		"skipped", len(users)-len(eligible),
		"bypass_cache", opts.BypassCache)
	c.metrics.RecordUsersSynced(ctx, int64(len(eligible)))

	batch.Run(ctx, eligible, func(ctx context.Context, user store.User) error {
		return c.syncUser(ctx, user, opts)
	}, batch.Config[store.User]{
		BatchSize: c.batchSize,
		Delay:     c.batchDelay,
		Clock:     c.clock,
		OnError: func(user store.User, err error) {
			c.sink.Report(ctx, "sync.user", fmt.Errorf("user %s: %w", user.ID, err))
		},
	})

	c.metrics.RecordPassDuration(ctx, c.clock.Now().Sub(start), true)
	slog.Info("Sync pass finished", "user_count", len(eligible), "duration", c.clock.Now().Sub(start))
}

// SyncOneUser refreshes a single user on demand, outside the reentrancy
// guard and without the batch runner. Users without a usable API key
// are skipped.
func (c *Coordinator) SyncOneUser(ctx context.Context, user store.User, opts Options) {
	user.APIKey = strings.TrimSpace(user.APIKey)
	if user.APIKey == "" {
		slog.Debug("Skipping user without API key", "user_id", user.ID)
		return
	}
	if err := c.syncUser(ctx, user, opts); err != nil {
		c.sink.Report(ctx, "sync.user", fmt.Errorf("user %s: %w", user.ID, err))
	}
}

// eligibleUsers trims API keys and drops users whose key is empty, so
// they never reach the network, the log, or the stat upsert.
func eligibleUsers(users []store.User) []store.User {
	eligible := make([]store.User, 0, len(users))
	for _, user := range users {
		user.APIKey = strings.TrimSpace(user.APIKey)
		if user.APIKey == "" {
			continue
		}
		eligible = append(eligible, user)
	}
	return eligible
}

// syncUser fetches one user's daily status and processes the result.
// The returned error covers only the fetch itself; result processing
// contains its own failures.
func (c *Coordinator) syncUser(ctx context.Context, user store.User, opts Options) error {
	result, err := c.client.FetchDailyStatus(ctx, user.ID.String(), user.APIKey, provider.FetchOptions{
		BypassCache: opts.BypassCache,
	})
	if err != nil {
		return fmt.Errorf("fetch daily status: %w", err)
	}
	c.processResult(ctx, user, result)
	return nil
}

// processResult applies one provider result: resolve the effective
// timezone and date key, persist the provider log and daily stat where
// warranted, pick up timezone changes, and invoke achievement awarding.
func (c *Coordinator) processResult(ctx context.Context, user store.User, result *provider.Result) {
	// Provider-reported timezone wins over the stored one.
	timezone := user.Timezone
	if result.Timezone != "" {
		timezone = result.Timezone
	}

	dateKey := result.DateKey
	if dateKey == "" {
		dateKey = timeutil.ToDateKey(c.clock.Now(), timezone)
	}

	logEntry := store.ProviderLog{
		Provider:   ProviderName,
		UserID:     user.ID,
		Endpoint:   provider.ScopeStatusBar,
		RangeKey:   dateKey,
		StatusCode: result.ResponseStatus,
		OK:         result.ResponseOK,
		Payload:    result.Payload,
		Error:      logError(result),
		FetchedAt:  result.FetchedAt,
	}

	// Quiet cache re-reads carry no new information and are not
	// logged; everything else is, including a cache-backed network
	// fallback.
	persistLog := !result.FromCache || result.NetworkError != ""

	// The timezone update and the log write are independent side
	// effects; run them concurrently and contain their failures.
	var side errgroup.Group
	if result.Timezone != "" && result.Timezone != user.Timezone {
		side.Go(func() error {
			if err := c.store.SetTimezone(ctx, user.ID, result.Timezone); err != nil {
				c.sink.Report(ctx, "sync.timezone", fmt.Errorf("user %s: %w", user.ID, err))
			}
			return nil
		})
	}
	if persistLog {
		side.Go(func() error {
			if err := c.store.CreateProviderLog(ctx, logEntry); err != nil {
				c.sink.Report(ctx, "sync.provider_log", fmt.Errorf("user %s: %w", user.ID, err))
			}
			return nil
		})
	}

	// Cache hits are assumed already persisted. Note this also skips
	// the degraded network-fallback path, where FromCache is true but
	// the data may be stale; see DESIGN.md.
	if !result.FromCache {
		stat := store.DailyStat{
			UserID:       user.ID,
			DateKey:      dateKey,
			TotalSeconds: result.TotalSeconds,
			Status:       string(result.Status),
			Error:        result.ErrorMessage,
			FetchedAt:    result.FetchedAt,
		}
		if err := c.store.UpsertDailyStat(ctx, stat); err != nil {
			c.sink.Report(ctx, "sync.daily_stat", fmt.Errorf("user %s: %w", user.ID, err))
		}
	}

	// Awarding runs for every result, cache hit or not; the awarder is
	// idempotent and decides whether anything is newly granted.
	if err := c.awarder.Award(ctx, AwardEvent{
		UserID:       user.ID,
		DateKey:      dateKey,
		Status:       result.Status,
		TotalSeconds: result.TotalSeconds,
		Payload:      result.Payload,
		FetchedAt:    result.FetchedAt,
	}); err != nil {
		c.sink.Report(ctx, "sync.award", fmt.Errorf("user %s: %w", user.ID, err))
	}

	_ = side.Wait()
}

// logError picks the most informative error string for the audit log.
func logError(result *provider.Result) string {
	if result.NetworkError != "" {
		return result.NetworkError
	}
	return result.ErrorMessage
}
