package provider

import (
	"encoding/json"
	"time"
)

// Status classifies the outcome of a provider fetch. Classification is
// total: every completed HTTP exchange (and every network failure) maps
// to exactly one of these values, never to an error return.
type Status string

const (
	// StatusOK means the provider returned usable stats.
	StatusOK Status = "ok"

	// StatusPrivate means the user's stats are not visible with the
	// given key (401/403, or a 404 whose message smells like a
	// permissions problem).
	StatusPrivate Status = "private"

	// StatusNotFound means the provider does not know the user.
	StatusNotFound Status = "not_found"

	// StatusError covers every other failure, including network-level
	// failures with no cached result to fall back on.
	StatusError Status = "error"
)

// Result is the normalized outcome of one stats fetch.
//
// TotalSeconds is zero whenever Status is not StatusOK.
type Result struct {
	Status       Status
	TotalSeconds float64

	// DailyAverageSeconds is populated by range-stats fetches only.
	DailyAverageSeconds float64

	// Timezone and DateKey are the provider-reported values, when the
	// payload carried them. Either may be empty.
	Timezone string
	DateKey  string

	// ErrorMessage is the human-readable provider error for non-ok
	// statuses, extracted from the response payload when possible.
	ErrorMessage string

	FetchedAt time.Time

	// ResponseStatus and ResponseOK describe the raw HTTP exchange.
	// ResponseStatus is zero when the request never completed.
	ResponseStatus int
	ResponseOK     bool

	// Payload is the raw response body, kept for auditing and for the
	// achievement awarder.
	Payload json.RawMessage

	// FromCache is true when this result was served from the in-memory
	// cache, including the degraded network-failure fallback path.
	FromCache bool

	// NetworkError carries the transport failure message when a cached
	// result was served because the request could not complete.
	NetworkError string
}

// FetchOptions tunes a single fetch.
type FetchOptions struct {
	// BypassCache forces a network fetch even when a fresh cache entry
	// exists. The fetched result still overwrites the cache.
	BypassCache bool
}
