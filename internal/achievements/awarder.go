// Package achievements implements the award evaluation invoked after
// every synced result. The rule set is deliberately small; the sync
// engine treats it as an opaque, idempotent callback.
package achievements

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/store"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
)

// Achievement kinds granted by the threshold awarder.
const (
	KindFirstActivity = "first_activity"
	KindOneHourDay    = "one_hour_day"
	KindFourHourDay   = "four_hour_day"
	KindEightHourDay  = "eight_hour_day"
)

// threshold pairs an achievement kind with the minimum seconds of
// activity in one day that earn it.
type threshold struct {
	kind    string
	seconds float64
}

// thresholds are evaluated independently; one big day can grant several
// at once.
var thresholds = []threshold{
	{kind: KindFirstActivity, seconds: 1},
	{kind: KindOneHourDay, seconds: 3600},
	{kind: KindFourHourDay, seconds: 4 * 3600},
	{kind: KindEightHourDay, seconds: 8 * 3600},
}

// Awarder grants threshold achievements. Idempotency comes from the
// store: UpsertAchievement only reports a grant the first time a
// (user, day, kind) triple is written, so repeated invocation for the
// same result, cache hits included, is safe.
type Awarder struct {
	store store.Store
}

var _ syncengine.Awarder = (*Awarder)(nil)

// New creates an Awarder writing grants to the given store.
func New(st store.Store) *Awarder {
	return &Awarder{store: st}
}

// Award implements sync.Awarder.
func (a *Awarder) Award(ctx context.Context, event syncengine.AwardEvent) error {
	if event.Status != provider.StatusOK {
		return nil
	}

	for _, t := range thresholds {
		if event.TotalSeconds < t.seconds {
			continue
		}
		granted, err := a.store.UpsertAchievement(ctx, store.Achievement{
			UserID:    event.UserID,
			DateKey:   event.DateKey,
			Kind:      t.kind,
			AwardedAt: event.FetchedAt,
		})
		if err != nil {
			return fmt.Errorf("award %s: %w", t.kind, err)
		}
		if granted {
			slog.Info("Achievement granted",
				"user_id", event.UserID,
				"date_key", event.DateKey,
				"kind", t.kind)
		}
	}
	return nil
}

// Noop is an Awarder that grants nothing; useful in tests and as a
// stand-in when achievements are disabled.
type Noop struct{}

var _ syncengine.Awarder = Noop{}

// Award implements sync.Awarder.
func (Noop) Award(context.Context, syncengine.AwardEvent) error {
	return nil
}
