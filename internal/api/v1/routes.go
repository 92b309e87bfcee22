// Package v1 provides the REST API handlers for leaderboard access.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codepulse/leaderboard-server/internal/provider"
	"github.com/codepulse/leaderboard-server/internal/store"
	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
	"github.com/codepulse/leaderboard-server/internal/timeutil"
)

// SyncService is the slice of the sync Coordinator the API consumes.
type SyncService interface {
	SyncOneUser(ctx context.Context, user store.User, opts syncengine.Options)
}

// StatsService is the slice of the provider client the API consumes for
// range-stats lookups.
type StatsService interface {
	FetchRangeStats(ctx context.Context, identity, apiKey, rangeName string, opts provider.FetchOptions) (*provider.Result, error)
}

// rangeNames are the aggregate ranges the provider understands.
var rangeNames = map[string]struct{}{
	"last_7_days":   {},
	"last_30_days":  {},
	"last_6_months": {},
	"last_year":     {},
	"all_time":      {},
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserResponse is the public view of a user. The API key is accepted on
// create but never echoed back.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	HasAPIKey bool      `json:"has_api_key"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest is the payload for POST /users
type CreateUserRequest struct {
	Name     string `json:"name"`
	APIKey   string `json:"api_key,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// LeaderboardResponse is the payload for GET /leaderboard
type LeaderboardResponse struct {
	DateKey string             `json:"date"`
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardEntry is one ranked row
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"user_id"`
	Name         string  `json:"name"`
	TotalSeconds float64 `json:"total_seconds"`
	Status       string  `json:"status"`
}

// AchievementResponse is one granted achievement
type AchievementResponse struct {
	DateKey   string    `json:"date"`
	Kind      string    `json:"kind"`
	AwardedAt time.Time `json:"awarded_at"`
}

// RangeStatsResponse is the payload for GET /users/{id}/stats/{range}
type RangeStatsResponse struct {
	Range               string  `json:"range"`
	Status              string  `json:"status"`
	TotalSeconds        float64 `json:"total_seconds"`
	DailyAverageSeconds float64 `json:"daily_average_seconds"`
	Timezone            string  `json:"timezone,omitempty"`
	FromCache           bool    `json:"from_cache"`
	Error               string  `json:"error,omitempty"`
}

// Routes defines the routes for the leaderboard API with dependency
// injection
type Routes struct {
	store  store.Store
	syncer SyncService
	stats  StatsService
	clock  quartz.Clock
}

// RouteOption configures the Routes instance
type RouteOption func(*Routes)

// WithClock overrides the time source (for tests)
func WithClock(clock quartz.Clock) RouteOption {
	return func(rr *Routes) {
		rr.clock = clock
	}
}

// NewRoutes creates a new Routes instance
func NewRoutes(st store.Store, syncer SyncService, stats StatsService, opts ...RouteOption) *Routes {
	rr := &Routes{
		store:  st,
		syncer: syncer,
		stats:  stats,
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// Router creates a new router for the leaderboard API
func Router(st store.Store, syncer SyncService, stats StatsService, opts ...RouteOption) http.Handler {
	routes := NewRoutes(st, syncer, stats, opts...)

	r := chi.NewRouter()

	r.Get("/leaderboard", routes.getLeaderboard)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", routes.listUsers)
		r.Post("/", routes.createUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", routes.getUser)
			r.Delete("/", routes.deleteUser)
			r.Post("/sync", routes.syncUser)
			r.Get("/achievements", routes.listAchievements)
			r.Get("/stats/{range}", routes.getRangeStats)
		})
	})

	return r
}

// getLeaderboard handles GET /api/v1/leaderboard. The date query
// parameter selects a day ("2006-01-02"); it defaults to the current
// UTC day.
func (rr *Routes) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	dateKey := r.URL.Query().Get("date")
	if dateKey == "" {
		dateKey = timeutil.ToDateKey(rr.clock.Now(), "")
	} else if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		rr.writeErrorResponse(w, "date must be formatted as 2006-01-02", http.StatusBadRequest)
		return
	}

	stats, err := rr.store.ListDailyStats(r.Context(), dateKey)
	if err != nil {
		slog.Error("Failed to list daily stats", "error", err)
		rr.writeErrorResponse(w, "Failed to build leaderboard", http.StatusInternalServerError)
		return
	}

	entries := make([]LeaderboardEntry, 0, len(stats))
	for i, stat := range stats {
		entries = append(entries, LeaderboardEntry{
			Rank:         i + 1,
			UserID:       stat.User.ID.String(),
			Name:         stat.User.Name,
			TotalSeconds: stat.TotalSeconds,
			Status:       stat.Status,
		})
	}

	rr.writeJSONResponse(w, LeaderboardResponse{DateKey: dateKey, Entries: entries})
}

// listUsers handles GET /api/v1/users
func (rr *Routes) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := rr.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		rr.writeErrorResponse(w, "Failed to list users", http.StatusInternalServerError)
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, user := range users {
		out = append(out, toUserResponse(user))
	}
	rr.writeJSONResponse(w, out)
}

// createUser handles POST /api/v1/users
func (rr *Routes) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		rr.writeErrorResponse(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			rr.writeErrorResponse(w, "timezone is not a valid IANA zone", http.StatusBadRequest)
			return
		}
	}

	user, err := rr.store.CreateUser(r.Context(), store.User{
		Name:     req.Name,
		APIKey:   strings.TrimSpace(req.APIKey),
		Timezone: req.Timezone,
	})
	if err != nil {
		slog.Error("Failed to create user", "error", err)
		rr.writeErrorResponse(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toUserResponse(user)); err != nil {
		slog.Error("Failed to encode user response", "error", err)
	}
}

// getUser handles GET /api/v1/users/{id}
func (rr *Routes) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := rr.lookupUser(w, r)
	if !ok {
		return
	}
	rr.writeJSONResponse(w, toUserResponse(user))
}

// deleteUser handles DELETE /api/v1/users/{id}
func (rr *Routes) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.parseUserID(w, r)
	if !ok {
		return
	}

	if err := rr.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			rr.writeErrorResponse(w, "User not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete user", "error", err, "user_id", id)
		rr.writeErrorResponse(w, "Failed to delete user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// syncUser handles POST /api/v1/users/{id}/sync. The refresh runs
// inline; bypass_cache=true forces a fresh provider fetch.
func (rr *Routes) syncUser(w http.ResponseWriter, r *http.Request) {
	user, ok := rr.lookupUser(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(user.APIKey) == "" {
		rr.writeErrorResponse(w, "User has no API key configured", http.StatusConflict)
		return
	}

	rr.syncer.SyncOneUser(r.Context(), user, syncengine.Options{
		BypassCache: r.URL.Query().Get("bypass_cache") == "true",
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"synced"}`))
}

// listAchievements handles GET /api/v1/users/{id}/achievements
func (rr *Routes) listAchievements(w http.ResponseWriter, r *http.Request) {
	user, ok := rr.lookupUser(w, r)
	if !ok {
		return
	}

	achievements, err := rr.store.ListAchievements(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to list achievements", "error", err, "user_id", user.ID)
		rr.writeErrorResponse(w, "Failed to list achievements", http.StatusInternalServerError)
		return
	}

	out := make([]AchievementResponse, 0, len(achievements))
	for _, achievement := range achievements {
		out = append(out, AchievementResponse{
			DateKey:   achievement.DateKey,
			Kind:      achievement.Kind,
			AwardedAt: achievement.AwardedAt,
		})
	}
	rr.writeJSONResponse(w, out)
}

// getRangeStats handles GET /api/v1/users/{id}/stats/{range}. The
// result comes straight from the provider (or its cache), not from the
// daily stats table.
func (rr *Routes) getRangeStats(w http.ResponseWriter, r *http.Request) {
	rangeName := chi.URLParam(r, "range")
	if _, ok := rangeNames[rangeName]; !ok {
		rr.writeErrorResponse(w, "unknown stats range", http.StatusBadRequest)
		return
	}

	user, ok := rr.lookupUser(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(user.APIKey) == "" {
		rr.writeErrorResponse(w, "User has no API key configured", http.StatusConflict)
		return
	}

	result, err := rr.stats.FetchRangeStats(r.Context(), user.ID.String(), user.APIKey, rangeName, provider.FetchOptions{})
	if err != nil {
		slog.Error("Failed to fetch range stats", "error", err, "user_id", user.ID, "range", rangeName)
		rr.writeErrorResponse(w, "Failed to fetch stats", http.StatusBadGateway)
		return
	}

	rr.writeJSONResponse(w, RangeStatsResponse{
		Range:               rangeName,
		Status:              string(result.Status),
		TotalSeconds:        result.TotalSeconds,
		DailyAverageSeconds: result.DailyAverageSeconds,
		Timezone:            result.Timezone,
		FromCache:           result.FromCache,
		Error:               result.ErrorMessage,
	})
}

func (rr *Routes) parseUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rr.writeErrorResponse(w, "id must be a valid UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (rr *Routes) lookupUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	id, ok := rr.parseUserID(w, r)
	if !ok {
		return store.User{}, false
	}

	user, err := rr.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			rr.writeErrorResponse(w, "User not found", http.StatusNotFound)
			return store.User{}, false
		}
		slog.Error("Failed to get user", "error", err, "user_id", id)
		rr.writeErrorResponse(w, "Failed to get user", http.StatusInternalServerError)
		return store.User{}, false
	}
	return user, true
}

func toUserResponse(user store.User) UserResponse {
	return UserResponse{
		ID:        user.ID.String(),
		Name:      user.Name,
		Timezone:  user.Timezone,
		HasAPIKey: strings.TrimSpace(user.APIKey) != "",
		CreatedAt: user.CreatedAt,
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
