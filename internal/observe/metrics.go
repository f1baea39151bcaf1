// Package observe provides application-wide observability primitives for
// VoxBridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxBridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// meter is retained for registering observable callbacks after
	// construction (see ObserveActiveSessions).
	meter metric.Meter

	// --- Latency histograms per capability ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ClassifyDuration tracks transcript classification latency.
	ClassifyDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts capability provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts capability provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Frames counts protocol frames by direction and type.
	Frames metric.Int64Counter

	// PoolSaturations counts rejected worker pool submissions by pool name.
	PoolSaturations metric.Int64Counter

	// JobTimeouts counts worker pool jobs that hit their deadline, by pool
	// name.
	JobTimeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions reports the number of live conversation sessions. It is
	// observed from the session registry via ObserveActiveSessions rather
	// than incremented at call sites, so the gauge always matches the
	// registry regardless of how a session ends (explicit close, idle sweep,
	// shutdown).
	ActiveSessions metric.Int64ObservableGauge

	// ActiveConnections tracks the number of attached streaming connections.
	ActiveConnections metric.Int64UpDownCounter

	// BufferedBytes tracks audio bytes currently retained across all session
	// buffers.
	BufferedBytes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech capability latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxbridge.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxbridge.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("voxbridge.classify.duration",
		metric.WithDescription("Latency of transcript classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxbridge.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxbridge.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("voxbridge.gateway.frames",
		metric.WithDescription("Total protocol frames by direction and type."),
	); err != nil {
		return nil, err
	}
	if met.PoolSaturations, err = m.Int64Counter("voxbridge.pool.saturations",
		metric.WithDescription("Total rejected worker pool submissions by pool."),
	); err != nil {
		return nil, err
	}
	if met.JobTimeouts, err = m.Int64Counter("voxbridge.pool.timeouts",
		metric.WithDescription("Total worker pool jobs that hit their deadline, by pool."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64ObservableGauge("voxbridge.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxbridge.active_connections",
		metric.WithDescription("Number of attached streaming connections."),
	); err != nil {
		return nil, err
	}
	if met.BufferedBytes, err = m.Int64UpDownCounter("voxbridge.buffer.bytes",
		metric.WithDescription("Audio bytes retained across all session buffers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ObserveActiveSessions registers count as the source of the active-session
// gauge. count is invoked on every metrics collection and must be safe for
// concurrent use. Safe to call on a nil receiver.
func (m *Metrics) ObserveActiveSessions(count func() int) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.ActiveSessions, int64(count()))
		return nil
	}, m.ActiveSessions)
	return err
}

// RecordProviderRequest records one provider call with the standard
// attribute set. Safe to call on a nil receiver.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error. Safe to call on a nil
// receiver.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrame records one protocol frame. direction is "in" or "out". Safe
// to call on a nil receiver.
func (m *Metrics) RecordFrame(ctx context.Context, direction, frameType string) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", frameType),
		),
	)
}

// RecordPoolSaturation records one rejected pool submission. Safe to call on
// a nil receiver.
func (m *Metrics) RecordPoolSaturation(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.PoolSaturations.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordJobTimeout records one pool job deadline hit. Safe to call on a nil
// receiver.
func (m *Metrics) RecordJobTimeout(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.JobTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}
