// Package telemetry provides OpenTelemetry instrumentation for the
// leaderboard sync server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/codepulse/leaderboard-server/sync"

	// ProviderMetricsMeterName is the name used for the provider client metrics meter
	ProviderMetricsMeterName = "github.com/codepulse/leaderboard-server/provider"
)

// SyncMetrics holds the OpenTelemetry instruments for sync pass metrics
type SyncMetrics struct {
	passDuration metric.Float64Histogram
	usersSynced  metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"codepulse_sync_pass_duration_seconds",
		metric.WithDescription("Duration of full synchronization passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	usersSynced, err := meter.Int64Gauge(
		"codepulse_sync_users_total",
		metric.WithDescription("Number of eligible users dispatched in the last sync pass"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration: passDuration,
		usersSynced:  usersSynced,
	}, nil
}

// RecordPassDuration records the duration of one full sync pass
func (m *SyncMetrics) RecordPassDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordUsersSynced records how many users were dispatched in a pass
func (m *SyncMetrics) RecordUsersSynced(ctx context.Context, count int64) {
	if m == nil || m.usersSynced == nil {
		return
	}

	m.usersSynced.Record(ctx, count)
}

// ProviderMetrics holds the OpenTelemetry instruments for provider client metrics
type ProviderMetrics struct {
	fetches metric.Int64Counter
}

// NewProviderMetrics creates a new ProviderMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewProviderMetrics(provider metric.MeterProvider) (*ProviderMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ProviderMetricsMeterName)

	fetches, err := meter.Int64Counter(
		"codepulse_provider_fetches_total",
		metric.WithDescription("Provider fetches by endpoint scope, outcome and cache disposition"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		fetches: fetches,
	}, nil
}

// RecordFetch records one provider fetch outcome
func (m *ProviderMetrics) RecordFetch(ctx context.Context, scope, status string, fromCache bool) {
	if m == nil || m.fetches == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("scope", scope),
		attribute.String("status", status),
		attribute.Bool("from_cache", fromCache),
	}

	m.fetches.Add(ctx, 1, metric.WithAttributes(attrs...))
}
