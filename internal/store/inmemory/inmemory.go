// Package inmemory provides a map-backed Store implementation used by
// tests and by dev mode, where running without Postgres is convenient.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codepulse/leaderboard-server/internal/store"
)

type memStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]store.User
	userOrder    []uuid.UUID
	dailyStats   map[uuid.UUID]map[string]store.DailyStat
	providerLogs []store.ProviderLog
	achievements map[achievementKey]store.Achievement
}

type achievementKey struct {
	userID  uuid.UUID
	dateKey string
	kind    string
}

var _ store.Store = (*memStore)(nil)

// New creates an empty in-memory store.
func New() store.Store {
	return &memStore{
		users:        make(map[uuid.UUID]store.User),
		dailyStats:   make(map[uuid.UUID]map[string]store.DailyStat),
		achievements: make(map[achievementKey]store.Achievement),
	}
}

func (s *memStore) ListUsers(_ context.Context) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]store.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		users = append(users, s.users[id])
	}
	return users, nil
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (s *memStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if _, exists := s.users[user.ID]; !exists {
		s.userOrder = append(s.userOrder, user.ID)
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *memStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.dailyStats, id)
	for i, existing := range s.userOrder {
		if existing == id {
			s.userOrder = append(s.userOrder[:i], s.userOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memStore) SetTimezone(_ context.Context, id uuid.UUID, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	user.Timezone = timezone
	s.users[id] = user
	return nil
}

func (s *memStore) UpsertDailyStat(_ context.Context, stat store.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDay, ok := s.dailyStats[stat.UserID]
	if !ok {
		byDay = make(map[string]store.DailyStat)
		s.dailyStats[stat.UserID] = byDay
	}
	byDay[stat.DateKey] = stat
	return nil
}

func (s *memStore) ListDailyStats(_ context.Context, dateKey string) ([]store.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []store.LeaderboardEntry
	for _, id := range s.userOrder {
		stat, ok := s.dailyStats[id][dateKey]
		if !ok {
			continue
		}
		entries = append(entries, store.LeaderboardEntry{
			User:         s.users[id],
			DateKey:      stat.DateKey,
			TotalSeconds: stat.TotalSeconds,
			Status:       stat.Status,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalSeconds > entries[j].TotalSeconds
	})
	return entries, nil
}

func (s *memStore) CreateProviderLog(_ context.Context, entry store.ProviderLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.providerLogs = append(s.providerLogs, entry)
	return nil
}

func (s *memStore) UpsertAchievement(_ context.Context, achievement store.Achievement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := achievementKey{
		userID:  achievement.UserID,
		dateKey: achievement.DateKey,
		kind:    achievement.Kind,
	}
	if _, exists := s.achievements[key]; exists {
		return false, nil
	}
	s.achievements[key] = achievement
	return true, nil
}

func (s *memStore) ListAchievements(_ context.Context, userID uuid.UUID) ([]store.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var achievements []store.Achievement
	for key, achievement := range s.achievements {
		if key.userID == userID {
			achievements = append(achievements, achievement)
		}
	}
	sort.Slice(achievements, func(i, j int) bool {
		return achievements[i].AwardedAt.After(achievements[j].AwardedAt)
	})
	return achievements, nil
}

// ProviderLogs returns a copy of the append-only provider call log.
// It is exposed for tests; the Store interface has no read path for
// logs.
func ProviderLogs(s store.Store) []store.ProviderLog {
	ms, ok := s.(*memStore)
	if !ok {
		return nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]store.ProviderLog, len(ms.providerLogs))
	copy(out, ms.providerLogs)
	return out
}
