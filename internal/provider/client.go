// Package provider implements the HTTP client for the WakaTime-compatible
// statistics API, including per-key response caching, total response
// classification, and stale-cache fallback on network failure.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/tidwall/gjson"

	"github.com/codepulse/leaderboard-server/internal/telemetry"
	"github.com/codepulse/leaderboard-server/internal/timeutil"
)

const (
	// DefaultBaseURL is the production provider endpoint.
	DefaultBaseURL = "https://wakatime.com/api/v1"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultCacheTTL is how long a same-day cache entry stays fresh.
	DefaultCacheTTL = 5 * time.Minute

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "codepulse-leaderboard/1.0"
)

// Endpoint scopes used for cache keys and provider-log entries. The
// status and range caches are independent of each other.
const (
	ScopeStatusBar = "status_bar"
	ScopeStats     = "stats"
)

// cacheEntry holds one cached result keyed to the calendar day it was
// fetched on. It is valid only while that day is still "today" on the
// process clock and its age is under the TTL.
type cacheEntry struct {
	calendarDay string
	fetchedAt   time.Time
	result      Result
}

// Client fetches per-user activity stats. It is safe for concurrent use;
// the response cache is guarded by a mutex because fetches for many
// users run in parallel during a sync pass.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      quartz.Clock
	cacheTTL   time.Duration
	metrics    *telemetry.ProviderMetrics

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClock overrides the time source (for tests).
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithCacheTTL overrides the cache freshness window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithMetrics attaches provider-call metrics. Nil-safe; without it no
// metrics are recorded.
func WithMetrics(metrics *telemetry.ProviderMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New creates a provider client. An empty baseURL selects the production
// endpoint.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		clock:      quartz.NewReal(),
		cacheTTL:   DefaultCacheTTL,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDailyStatus fetches the "status for today" endpoint for one user.
// The returned result is always non-nil and fully classified; the error
// is reserved for request-construction bugs.
func (c *Client) FetchDailyStatus(ctx context.Context, identity, apiKey string, opts FetchOptions) (*Result, error) {
	endpoint := c.baseURL + "/users/current/status_bar/today"
	return c.fetch(ctx, ScopeStatusBar, identity, apiKey, endpoint, opts, extractDailyStatus)
}

// FetchRangeStats fetches aggregate stats for a named range (for example
// "last_7_days"). Identical classification to FetchDailyStatus, adds
// DailyAverageSeconds, and is cached independently per range.
func (c *Client) FetchRangeStats(ctx context.Context, identity, apiKey, rangeName string, opts FetchOptions) (*Result, error) {
	endpoint := c.baseURL + "/users/current/stats/" + url.PathEscape(rangeName)
	scope := ScopeStats + ":" + rangeName
	return c.fetch(ctx, scope, identity, apiKey, endpoint, opts, extractRangeStats)
}

// extractor pulls endpoint-specific fields out of a 2xx payload.
type extractor func(body []byte, result *Result)

func (c *Client) fetch(
	ctx context.Context,
	scope, identity, apiKey, endpoint string,
	opts FetchOptions,
	extract extractor,
) (*Result, error) {
	key := cacheKey(scope, identity, apiKey)
	now := c.clock.Now()
	today := timeutil.ToDateKey(now, "")

	if !opts.BypassCache {
		if cached, ok := c.freshCached(key, today, now); ok {
			c.metrics.RecordFetch(ctx, scope, string(cached.Status), true)
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result := c.networkFallback(ctx, scope, key, err)
		return result, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		result := c.networkFallback(ctx, scope, key, err)
		return result, nil
	}

	result := Result{
		FetchedAt:      c.clock.Now(),
		ResponseStatus: resp.StatusCode,
		ResponseOK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Payload:        body,
	}
	result.Status, result.ErrorMessage = classify(resp.StatusCode, body)
	if result.Status == StatusOK {
		extract(body, &result)
	}

	// The cache is overwritten unconditionally, even for non-ok
	// statuses, so repeated polls of a private or unknown user do not
	// hammer the provider.
	c.storeCached(key, today, result)

	c.metrics.RecordFetch(ctx, scope, string(result.Status), false)
	out := result
	return &out, nil
}

// freshCached returns a copy of the cache entry for key if it was
// fetched today and is younger than the TTL.
func (c *Client) freshCached(key, today string, now time.Time) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if entry.calendarDay != today || now.Sub(entry.fetchedAt) >= c.cacheTTL {
		return nil, false
	}
	result := entry.result
	result.FromCache = true
	return &result, true
}

// networkFallback handles a request that could not complete: serve the
// last cached entry regardless of its age or day, or synthesize an error
// result when there is none. The cache is left untouched.
func (c *Client) networkFallback(ctx context.Context, scope, key string, cause error) *Result {
	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()

	if ok {
		result := entry.result
		result.FromCache = true
		result.NetworkError = cause.Error()
		c.metrics.RecordFetch(ctx, scope, string(result.Status), true)
		return &result
	}

	result := &Result{
		Status:       StatusError,
		TotalSeconds: 0,
		ErrorMessage: cause.Error(),
		FetchedAt:    c.clock.Now(),
		FromCache:    false,
		NetworkError: cause.Error(),
	}
	c.metrics.RecordFetch(ctx, scope, string(StatusError), false)
	return result
}

func (c *Client) storeCached(key, today string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{
		calendarDay: today,
		fetchedAt:   result.FetchedAt,
		result:      result,
	}
}

func cacheKey(scope, identity, apiKey string) string {
	return scope + "\x00" + identity + "\x00" + apiKey
}

// extractDailyStatus reads the status_bar payload shape:
// data.grand_total.total_seconds plus the provider-reported range date
// and timezone. Missing or malformed fields default to zero values.
func extractDailyStatus(body []byte, result *Result) {
	result.TotalSeconds = gjson.GetBytes(body, "data.grand_total.total_seconds").Float()
	result.DateKey = gjson.GetBytes(body, "data.range.date").String()
	result.Timezone = gjson.GetBytes(body, "data.range.timezone").String()
}

// extractRangeStats reads the stats payload shape: data.total_seconds,
// data.daily_average and data.timezone.
func extractRangeStats(body []byte, result *Result) {
	result.TotalSeconds = gjson.GetBytes(body, "data.total_seconds").Float()
	result.DailyAverageSeconds = gjson.GetBytes(body, "data.daily_average").Float()
	result.Timezone = gjson.GetBytes(body, "data.timezone").String()
}
