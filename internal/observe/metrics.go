// Package observe provides observability primitives for Telón: OpenTelemetry
// metrics, distributed tracing, and structured logging helpers.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Telón metrics.
const meterName = "github.com/telonlabs/telon"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DialDuration tracks how long establishing a live stream takes,
	// including the setup handshake.
	DialDuration metric.Float64Histogram

	// SidecallDuration tracks request/response model latency. Use with
	// attribute: attribute.String("kind", ...) ("identity" or "summary").
	SidecallDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsCommitted counts transcript turns committed to session state.
	// Use with attribute: attribute.String("speaker", ...).
	TurnsCommitted metric.Int64Counter

	// AudioChunks counts PCM chunks moved through the engine. Use with
	// attribute: attribute.String("direction", ...) ("capture" or "playback").
	AudioChunks metric.Int64Counter

	// StreamErrors counts fatal live stream errors by kind.
	StreamErrors metric.Int64Counter

	// Reconnects counts sessions started from the error state, i.e. with a
	// reconnection replay in the first message.
	Reconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions. In practice 0 or 1,
	// but kept as an UpDownCounter for scrape-friendly semantics.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DialDuration, err = m.Float64Histogram("telon.live.dial.duration",
		metric.WithDescription("Latency of live stream establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SidecallDuration, err = m.Float64Histogram("telon.sidecall.duration",
		metric.WithDescription("Latency of side-call model requests by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsCommitted, err = m.Int64Counter("telon.turns.committed",
		metric.WithDescription("Total transcript turns committed by speaker."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("telon.audio.chunks",
		metric.WithDescription("Total PCM chunks moved by direction."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("telon.stream.errors",
		metric.WithDescription("Total fatal live stream errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("telon.session.reconnects",
		metric.WithDescription("Total sessions started with a reconnection replay."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("telon.active_sessions",
		metric.WithDescription("Number of live sessions."),
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

// RecordDial records a live stream establishment latency sample.
func (m *Metrics) RecordDial(ctx context.Context, d time.Duration) {
	m.DialDuration.Record(ctx, d.Seconds())
}

// RecordSidecall records a side-call latency sample with the standard kind
// attribute.
func (m *Metrics) RecordSidecall(ctx context.Context, kind string, d time.Duration) {
	m.SidecallDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTurnCommitted records a committed transcript turn for speaker.
func (m *Metrics) RecordTurnCommitted(ctx context.Context, speaker string) {
	m.TurnsCommitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordAudioChunk records one PCM chunk moved in the given direction.
func (m *Metrics) RecordAudioChunk(ctx context.Context, direction string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordStreamError records a fatal live stream error of the given kind.
func (m *Metrics) RecordStreamError(ctx context.Context, kind string) {
	m.StreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
