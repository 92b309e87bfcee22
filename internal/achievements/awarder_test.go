package achievements_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/leaderboard-server/internal/achievements"
	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/store"
	"github.com/codepulse/leaderboard-server/internal/store/inmemory"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
)

func TestAward_Thresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		totalSeconds  float64
		status        provider.Status
		expectedKinds []string
	}{
		{
			name:          "no activity grants nothing",
			totalSeconds:  0,
			status:        provider.StatusOK,
			expectedKinds: nil,
		},
		{
			name:          "any activity grants first_activity",
			totalSeconds:  90,
			status:        provider.StatusOK,
			expectedKinds: []string{achievements.KindFirstActivity},
		},
		{
			name:         "big day grants every threshold it crosses",
			totalSeconds: 5 * 3600,
			status:       provider.StatusOK,
			expectedKinds: []string{
				achievements.KindFirstActivity,
				achievements.KindOneHourDay,
				achievements.KindFourHourDay,
			},
		},
		{
			name:          "non-ok status grants nothing",
			totalSeconds:  5 * 3600,
			status:        provider.StatusPrivate,
			expectedKinds: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := inmemory.New()
			user, err := st.CreateUser(ctx, store.User{Name: "ada"})
			require.NoError(t, err)

			awarder := achievements.New(st)
			require.NoError(t, awarder.Award(ctx, syncengine.AwardEvent{
				UserID:       user.ID,
				DateKey:      "2025-06-15",
				Status:       tt.status,
				TotalSeconds: tt.totalSeconds,
				FetchedAt:    time.Now(),
			}))

			granted, err := st.ListAchievements(ctx, user.ID)
			require.NoError(t, err)
			kinds := make([]string, 0, len(granted))
			for _, a := range granted {
				kinds = append(kinds, a.Kind)
			}
			assert.ElementsMatch(t, tt.expectedKinds, kinds)
		})
	}
}

func TestAward_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := inmemory.New()
	user, err := st.CreateUser(ctx, store.User{Name: "ada"})
	require.NoError(t, err)

	awarder := achievements.New(st)
	event := syncengine.AwardEvent{
		UserID:       user.ID,
		DateKey:      "2025-06-15",
		Status:       provider.StatusOK,
		TotalSeconds: 3600,
		FetchedAt:    time.Now(),
	}

	require.NoError(t, awarder.Award(ctx, event))
	require.NoError(t, awarder.Award(ctx, event))
	require.NoError(t, awarder.Award(ctx, event))

	granted, err := st.ListAchievements(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, granted, 2)
}
