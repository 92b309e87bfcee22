// Package errsink defines the process-wide error reporting abstraction.
//
// Sync passes isolate failures per user: an error never aborts sibling
// users or the pass itself. Every contained failure still has to land
// somewhere visible, and that somewhere is a Sink injected at
// construction time rather than ambient logging, so tests can assert on
// reported failures and multiple components can share one sink.
package errsink

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives contained failures from components that deliberately do
// not propagate them.
type Sink interface {
	// Report records a failure observed in the given scope (for example
	// "sync.user" or "scheduler.daily"). Implementations must be safe
	// for concurrent use and must not panic.
	Report(ctx context.Context, scope string, err error)
}

// NewLogSink returns a Sink that writes each reported failure to the
// given slog logger. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &logSink{logger: logger}
}

type logSink struct {
	logger *slog.Logger
}

var _ Sink = (*logSink)(nil)

func (s *logSink) Report(ctx context.Context, scope string, err error) {
	if err == nil {
		return
	}
	s.logger.ErrorContext(ctx, "Contained failure", "scope", scope, "error", err)
}

// Recorder is a Sink for tests that remembers everything reported to it.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

// Report is a single recorded failure.
type Report struct {
	Scope string
	Err   error
}

var _ Sink = (*Recorder)(nil)

// Report implements Sink.
func (r *Recorder) Report(_ context.Context, scope string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Scope: scope, Err: err})
}

// Reports returns a copy of everything reported so far.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Len returns the number of recorded reports.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}
