package sync_test

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/leaderboard-server/internal/errsink"
	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/store"
	"github.com/codepulse/leaderboard-server/internal/store/inmemory"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
)

// fakeClient returns canned results per API key and counts fetches.
type fakeClient struct {
	fetches atomic.Int64
	results map[string]*provider.Result
	block   chan struct{} // when non-nil, fetches wait until closed
}

func (f *fakeClient) FetchDailyStatus(_ context.Context, _, apiKey string, _ provider.FetchOptions) (*provider.Result, error) {
	f.fetches.Add(1)
	if f.block != nil {
		<-f.block
	}
	if result, ok := f.results[apiKey]; ok {
		out := *result
		return &out, nil
	}
	return &provider.Result{Status: provider.StatusOK, FetchedAt: time.Now()}, nil
}

// recordingAwarder remembers every award event.
type recordingAwarder struct {
	mu     stdsync.Mutex
	events []syncengine.AwardEvent
	err    error
}

func newRecordingAwarder() *recordingAwarder {
	return &recordingAwarder{}
}

func (a *recordingAwarder) Award(_ context.Context, event syncengine.AwardEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAwarder) Events() []syncengine.AwardEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]syncengine.AwardEvent, len(a.events))
	copy(out, a.events)
	return out
}

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	store.Store
	failUpsertStat bool
	failListUsers  bool
}

func (f *failingStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.failListUsers {
		return nil, errors.New("database down")
	}
	return f.Store.ListUsers(ctx)
}

func (f *failingStore) UpsertDailyStat(ctx context.Context, stat store.DailyStat) error {
	if f.failUpsertStat {
		return errors.New("upsert failed")
	}
	return f.Store.UpsertDailyStat(ctx, stat)
}

func okResult(totalSeconds float64, dateKey, timezone string) *provider.Result {
	return &provider.Result{
		Status:         provider.StatusOK,
		TotalSeconds:   totalSeconds,
		DateKey:        dateKey,
		Timezone:       timezone,
		FetchedAt:      time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		ResponseStatus: 200,
		ResponseOK:     true,
		Payload:        []byte(`{"data":{}}`),
	}
}

func TestRunOnce_PersistsFreshResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	user, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(3600, "2025-06-15", ""),
	}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	assert.Equal(t, int64(1), client.fetches.Load())
	assert.Zero(t, sink.Len())

	entries, err := st.ListDailyStats(ctx, "2025-06-15")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(3600), entries[0].TotalSeconds)
	assert.Equal(t, "ok", entries[0].Status)

	logs := inmemory.ProviderLogs(st)
	require.Len(t, logs, 1)
	assert.Equal(t, syncengine.ProviderName, logs[0].Provider)
	assert.Equal(t, user.ID, logs[0].UserID)
	assert.True(t, logs[0].OK)

	events := awarder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, user.ID, events[0].UserID)
	assert.Equal(t, "2025-06-15", events[0].DateKey)
}

func TestRunOnce_ExcludesUsersWithoutKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	_, err := st.CreateUser(ctx, store.User{Name: "no-key", APIKey: "   "})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, store.User{Name: "empty", APIKey: ""})
	require.NoError(t, err)
	withKey, err := st.CreateUser(ctx, store.User{Name: "has-key", APIKey: "  key-1  "})
	require.NoError(t, err)

	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(60, "2025-06-15", ""),
	}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	// Only the user with a usable (trimmed) key reaches the network,
	// the log, the stat table, and the awarder.
	assert.Equal(t, int64(1), client.fetches.Load())
	assert.Len(t, inmemory.ProviderLogs(st), 1)
	events := awarder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, withKey.ID, events[0].UserID)
	assert.Zero(t, sink.Len())
}

func TestRunOnce_TimezonePrecedenceAndUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	user, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1", Timezone: "UTC"})
	require.NoError(t, err)

	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(60, "2025-06-16", "Asia/Tehran"),
	}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	// Provider-reported timezone is persisted back to the user.
	updated, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tehran", updated.Timezone)

	// Provider-reported date key wins.
	events := awarder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "2025-06-16", events[0].DateKey)
	assert.Zero(t, sink.Len())
}

func TestRunOnce_DateKeyDerivedFromClockAndTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	_, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1", Timezone: "Asia/Tehran"})
	require.NoError(t, err)

	// No provider-reported date key or timezone: derive from the clock
	// in the stored timezone. 22:30 UTC is already the next day there.
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 6, 15, 22, 30, 0, 0, time.UTC))

	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(60, "", ""),
	}}
	awarder := newRecordingAwarder()

	coordinator := syncengine.New(st, client, awarder, &errsink.Recorder{},
		syncengine.WithBatchDelay(0), syncengine.WithClock(clock))
	coordinator.RunOnce(ctx, syncengine.Options{})

	events := awarder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "2025-06-16", events[0].DateKey)
}

func TestRunOnce_CacheHitSkipsPersistenceButAwards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	_, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	cached := okResult(3600, "2025-06-15", "")
	cached.FromCache = true

	client := &fakeClient{results: map[string]*provider.Result{"key-1": cached}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	// Quiet cache re-read: no stat row, no log entry, but awarding
	// still runs: it is idempotent and owns the "newly granted"
	// decision.
	entries, err := st.ListDailyStats(ctx, "2025-06-15")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, inmemory.ProviderLogs(st))
	assert.Len(t, awarder.Events(), 1)
	assert.Zero(t, sink.Len())
}

func TestRunOnce_NetworkFallbackIsLoggedButNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	_, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	degraded := okResult(3600, "2025-06-15", "")
	degraded.FromCache = true
	degraded.NetworkError = "connection refused"

	client := &fakeClient{results: map[string]*provider.Result{"key-1": degraded}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	// The degraded fallback carries new information (the failure), so
	// it is logged, but the stat upsert is still gated on FromCache.
	logs := inmemory.ProviderLogs(st)
	require.Len(t, logs, 1)
	assert.Equal(t, "connection refused", logs[0].Error)

	entries, err := st.ListDailyStats(ctx, "2025-06-15")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunOnce_ReentrancyGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	_, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	client := &fakeClient{block: make(chan struct{})}
	awarder := newRecordingAwarder()

	coordinator := syncengine.New(st, client, awarder, &errsink.Recorder{}, syncengine.WithBatchDelay(0))

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		coordinator.RunOnce(ctx, syncengine.Options{})
	}()

	// Wait until the first pass is blocked inside a fetch, then trigger
	// again: the second call must return immediately without fetching.
	require.Eventually(t, func() bool {
		return client.fetches.Load() == 1
	}, time.Second, time.Millisecond)

	coordinator.RunOnce(ctx, syncengine.Options{})
	assert.Equal(t, int64(1), client.fetches.Load())

	close(client.block)
	<-firstDone

	// Guard is released: the next pass fetches again.
	coordinator.RunOnce(ctx, syncengine.Options{})
	assert.Equal(t, int64(2), client.fetches.Load())
	assert.Len(t, awarder.Events(), 2)
}

func TestRunOnce_ListUsersFailureClearsGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	failing := &failingStore{Store: inmemory.New(), failListUsers: true}
	client := &fakeClient{}
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(failing, client, newRecordingAwarder(), sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	require.Equal(t, 1, sink.Len())
	assert.Equal(t, "sync.list_users", sink.Reports()[0].Scope)
	assert.Zero(t, client.fetches.Load())

	// The pass ended cleanly; the next trigger proceeds normally.
	failing.failListUsers = false
	coordinator.RunOnce(ctx, syncengine.Options{})
	assert.Equal(t, 1, sink.Len())
}

func TestRunOnce_StorageFailureIsContainedPerUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := inmemory.New()
	_, err := mem.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)
	_, err = mem.CreateUser(ctx, store.User{Name: "bob", APIKey: "key-2"})
	require.NoError(t, err)

	failing := &failingStore{Store: mem, failUpsertStat: true}
	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(60, "2025-06-15", ""),
		"key-2": okResult(120, "2025-06-15", ""),
	}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(failing, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.RunOnce(ctx, syncengine.Options{})

	// Both users were fetched and awarded despite every upsert
	// failing; both failures are reported individually.
	assert.Equal(t, int64(2), client.fetches.Load())
	assert.Len(t, awarder.Events(), 2)
	assert.Equal(t, 2, sink.Len())
	for _, report := range sink.Reports() {
		assert.Equal(t, "sync.daily_stat", report.Scope)
	}
}

func TestSyncOneUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	user, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	client := &fakeClient{results: map[string]*provider.Result{
		"key-1": okResult(1800, "2025-06-15", ""),
	}}
	awarder := newRecordingAwarder()
	sink := &errsink.Recorder{}

	coordinator := syncengine.New(st, client, awarder, sink, syncengine.WithBatchDelay(0))
	coordinator.SyncOneUser(ctx, user, syncengine.Options{BypassCache: true})

	assert.Equal(t, int64(1), client.fetches.Load())
	entries, err := st.ListDailyStats(ctx, "2025-06-15")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1800), entries[0].TotalSeconds)

	// Empty key is skipped silently.
	coordinator.SyncOneUser(ctx, store.User{ID: uuid.New(), APIKey: "  "}, syncengine.Options{})
	assert.Equal(t, int64(1), client.fetches.Load())
	assert.Zero(t, sink.Len())
}

func TestSyncOneUser_BypassesReentrancyGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := inmemory.New()
	user, err := st.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)

	client := &fakeClient{block: make(chan struct{})}
	coordinator := syncengine.New(st, client, newRecordingAwarder(), &errsink.Recorder{}, syncengine.WithBatchDelay(0))

	passDone := make(chan struct{})
	go func() {
		defer close(passDone)
		coordinator.RunOnce(ctx, syncengine.Options{})
	}()
	require.Eventually(t, func() bool {
		return client.fetches.Load() == 1
	}, time.Second, time.Millisecond)

	// The on-demand path is not blocked by the in-flight pass.
	oneDone := make(chan struct{})
	go func() {
		defer close(oneDone)
		coordinator.SyncOneUser(ctx, user, syncengine.Options{})
	}()
	require.Eventually(t, func() bool {
		return client.fetches.Load() == 2
	}, time.Second, time.Millisecond)

	close(client.block)
	<-passDone
	<-oneDone
}
