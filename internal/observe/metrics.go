// Package observe provides application-wide observability primitives for
// Hearsay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Hearsay metrics.
const meterName = "github.com/soundline/hearsay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks the batch speech recognition pass.
	RecognitionDuration metric.Float64Histogram

	// DiarizationDuration tracks the speaker diarization pass.
	DiarizationDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksEmitted counts audio chunks leaving the capture engine. Use with
	// attribute: attribute.String("source", ...)
	ChunksEmitted metric.Int64Counter

	// BytesCaptured counts PCM payload bytes leaving the capture engine. Use
	// with attribute: attribute.String("source", ...)
	BytesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because an internal queue was
	// full. Use with attribute: attribute.String("source", ...)
	FramesDropped metric.Int64Counter

	// SegmentsProduced counts transcript segments emitted by finished
	// sessions. Use with attribute: attribute.String("provider", ...)
	SegmentsProduced metric.Int64Counter

	// Warnings counts non-fatal pipeline degradations. Use with attribute:
	//   attribute.String("stage", ...)
	Warnings metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// InputLevel reports the most recent RMS level per source. Use with
	// attribute: attribute.String("source", ...)
	InputLevel metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
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
	if met.RecognitionDuration, err = m.Float64Histogram("hearsay.recognition.duration",
		metric.WithDescription("Latency of the batch speech recognition pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDuration, err = m.Float64Histogram("hearsay.diarization.duration",
		metric.WithDescription("Latency of the speaker diarization pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksEmitted, err = m.Int64Counter("hearsay.audio.chunks",
		metric.WithDescription("Total audio chunks emitted by the capture engine, by source."),
	); err != nil {
		return nil, err
	}
	if met.BytesCaptured, err = m.Int64Counter("hearsay.audio.bytes",
		metric.WithDescription("Total PCM payload bytes emitted by the capture engine, by source."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("hearsay.audio.frames_dropped",
		metric.WithDescription("Frames discarded due to full internal queues, by source."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsProduced, err = m.Int64Counter("hearsay.segments.produced",
		metric.WithDescription("Transcript segments emitted by finished sessions, by provider."),
	); err != nil {
		return nil, err
	}
	if met.Warnings, err = m.Int64Counter("hearsay.warnings",
		metric.WithDescription("Non-fatal pipeline degradations by stage."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("hearsay.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("hearsay.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Gauge("hearsay.audio.level",
		metric.WithDescription("Most recent RMS input level per source, in 16-bit PCM units."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hearsay.http.request.duration",
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

// RecordChunk is a convenience method that records one emitted chunk and its
// payload size for the given source.
func (m *Metrics) RecordChunk(ctx context.Context, source string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.ChunksEmitted.Add(ctx, 1, attrs)
	m.BytesCaptured.Add(ctx, int64(bytes), attrs)
}

// RecordDrops is a convenience method that records n dropped frames for the
// given source. Zero and negative counts are ignored.
func (m *Metrics) RecordDrops(ctx context.Context, source string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordSegments is a convenience method that records n produced segments for
// the given provider.
func (m *Metrics) RecordSegments(ctx context.Context, provider string, n int) {
	if n <= 0 {
		return
	}
	m.SegmentsProduced.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordWarning is a convenience method that records a non-fatal degradation
// in the given pipeline stage.
func (m *Metrics) RecordWarning(ctx context.Context, stage string) {
	m.Warnings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordLevel is a convenience method that reports the most recent RMS input
// level for the given source.
func (m *Metrics) RecordLevel(ctx context.Context, source string, rms float64) {
	m.InputLevel.Record(ctx, rms,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
