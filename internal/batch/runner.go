// Package batch provides a concurrency-bounded, rate-limited executor
// for fanning work out to an external API without tripping its limits.
//
// Items are processed in consecutive groups of at most Config.BatchSize.
// All items in a group run concurrently; the group is done when every
// handler has settled. Between groups the runner sleeps Config.Delay, so
// sustained throughput stays at or below BatchSize requests per Delay
// regardless of how many items the caller hands in.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	// DefaultBatchSize matches the provider's allowed requests per
	// second, so one group never bursts past the per-second limit.
	DefaultBatchSize = 10

	// DefaultDelay is one request-window granule. Combined with
	// DefaultBatchSize it keeps sustained throughput under the
	// provider's rolling window limit.
	DefaultDelay = time.Second
)

// Config controls group sizing, pacing, and failure reporting.
type Config[T any] struct {
	// BatchSize is the maximum number of items dispatched concurrently.
	// Zero or negative means DefaultBatchSize.
	BatchSize int

	// Delay is the pause between consecutive groups. It is not applied
	// after the final group. Negative means DefaultDelay; zero disables
	// the pause (useful in tests).
	Delay time.Duration

	// OnError receives every individual item failure. The runner never
	// propagates handler errors past its own call; if OnError is nil,
	// failures are silently dropped.
	OnError func(item T, err error)

	// Clock is the time source for inter-group pacing. Nil means the
	// real clock.
	Clock quartz.Clock
}

// Handler processes a single item. A returned error (or panic) is
// contained: it is reported through Config.OnError and never affects
// sibling items or subsequent groups.
type Handler[T any] func(ctx context.Context, item T) error

// Run processes items in rate-limited groups as described in the package
// doc. It returns once every item has settled or the context is
// cancelled mid-pause; items already dispatched always run to
// completion.
func Run[T any](ctx context.Context, items []T, handler Handler[T], cfg Config[T]) {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	delay := cfg.Delay
	if delay < 0 {
		delay = DefaultDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}

		runGroup(ctx, items[start:end], handler, cfg.OnError)

		if end < len(items) && delay > 0 {
			if !sleep(ctx, clock, delay) {
				return
			}
		}
	}
}

// runGroup dispatches one group concurrently and waits for every item to
// settle.
func runGroup[T any](ctx context.Context, group []T, handler Handler[T], onError func(T, error)) {
	var wg sync.WaitGroup
	for _, item := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := settle(ctx, handler, item); err != nil && onError != nil {
				onError(item, err)
			}
		}()
	}
	wg.Wait()
}

// settle invokes the handler and converts a panic into an error so a
// single misbehaving item cannot take down the pass.
func settle[T any](ctx context.Context, handler Handler[T], item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, item)
}

// sleep pauses for d, returning false if the context was cancelled
// first.
func sleep(ctx context.Context, clock quartz.Clock, d time.Duration) bool {
	timer := clock.NewTimer(d, "batch", "delay")
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
