package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/leaderboard-server/internal/store"
	"github.com/codepulse/leaderboard-server/internal/store/inmemory"
)

func TestUserLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := inmemory.New()

	created, err := s.CreateUser(ctx, store.User{Name: "ada", APIKey: "key-1"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := s.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)

	require.NoError(t, s.SetTimezone(ctx, created.ID, "Asia/Tehran"))
	got, err = s.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tehran", got.Timezone)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	require.NoError(t, s.DeleteUser(ctx, created.ID))
	_, err = s.GetUser(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, created.ID), store.ErrUserNotFound)
}

func TestDailyStatsLeaderboardOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := inmemory.New()

	slow, err := s.CreateUser(ctx, store.User{Name: "slow"})
	require.NoError(t, err)
	fast, err := s.CreateUser(ctx, store.User{Name: "fast"})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.UpsertDailyStat(ctx, store.DailyStat{
		UserID: slow.ID, DateKey: "2025-06-15", TotalSeconds: 600, Status: "ok", FetchedAt: now,
	}))
	require.NoError(t, s.UpsertDailyStat(ctx, store.DailyStat{
		UserID: fast.ID, DateKey: "2025-06-15", TotalSeconds: 7200, Status: "ok", FetchedAt: now,
	}))

	// Upsert replaces the previous row for the same day.
	require.NoError(t, s.UpsertDailyStat(ctx, store.DailyStat{
		UserID: slow.ID, DateKey: "2025-06-15", TotalSeconds: 9000, Status: "ok", FetchedAt: now,
	}))

	entries, err := s.ListDailyStats(ctx, "2025-06-15")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "slow", entries[0].User.Name)
	assert.Equal(t, float64(9000), entries[0].TotalSeconds)
	assert.Equal(t, "fast", entries[1].User.Name)

	entries, err = s.ListDailyStats(ctx, "2025-06-16")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpsertAchievementIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := inmemory.New()

	user, err := s.CreateUser(ctx, store.User{Name: "ada"})
	require.NoError(t, err)

	achievement := store.Achievement{
		UserID:    user.ID,
		DateKey:   "2025-06-15",
		Kind:      "daily_hour",
		AwardedAt: time.Now(),
	}

	granted, err := s.UpsertAchievement(ctx, achievement)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = s.UpsertAchievement(ctx, achievement)
	require.NoError(t, err)
	assert.False(t, granted)

	achievements, err := s.ListAchievements(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, achievements, 1)
}

func TestProviderLogsAppendOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := inmemory.New()

	user, err := s.CreateUser(ctx, store.User{Name: "ada"})
	require.NoError(t, err)

	require.NoError(t, s.CreateProviderLog(ctx, store.ProviderLog{
		Provider:  "wakatime",
		UserID:    user.ID,
		Endpoint:  "status_bar",
		FetchedAt: time.Now(),
	}))
	require.NoError(t, s.CreateProviderLog(ctx, store.ProviderLog{
		Provider:  "wakatime",
		UserID:    user.ID,
		Endpoint:  "status_bar",
		FetchedAt: time.Now(),
	}))

	logs := inmemory.ProviderLogs(s)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.NotEqual(t, uuid.Nil, entry.ID)
	}
}
