// Package observe provides application-wide observability primitives for
// Reflector: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Reflector metrics.
const meterName = "github.com/reflector-media/reflector"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks pipeline stage latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// TranscriptionDuration tracks remote transcription call latency.
	TranscriptionDuration metric.Float64Histogram

	// DiarizationDuration tracks remote diarization call latency.
	DiarizationDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// PipelineRuns counts workflow completions. Use with attributes:
	//   attribute.String("pipeline", ...), attribute.String("status", ...)
	PipelineRuns metric.Int64Counter

	// EventsPublished counts transcript events pushed through the broadcaster.
	// Use with attribute: attribute.String("event", ...)
	EventsPublished metric.Int64Counter

	// RecordingsReconciled counts reconciliation outcomes. Use with attribute:
	//   attribute.String("outcome", ...) — matched, orphaned, duplicate
	RecordingsReconciled metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveMeetings tracks the number of currently active platform meetings.
	ActiveMeetings metric.Int64UpDownCounter

	// ActiveSubscribers tracks the number of live websocket event subscribers.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// pipeline stages, which run from sub-second (status writes) to many minutes
// (mixdowns of long meetings).
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600,
}

// callBuckets defines boundaries for single remote calls.
var callBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("reflector.pipeline.stage.duration",
		metric.WithDescription("Latency of pipeline stages by stage name and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("reflector.transcription.duration",
		metric.WithDescription("Latency of remote transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDuration, err = m.Float64Histogram("reflector.diarization.duration",
		metric.WithDescription("Latency of remote diarization calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("reflector.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PipelineRuns, err = m.Int64Counter("reflector.pipeline.runs",
		metric.WithDescription("Total pipeline runs by pipeline name and terminal status."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("reflector.events.published",
		metric.WithDescription("Total transcript events published by event type."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsReconciled, err = m.Int64Counter("reflector.recordings.reconciled",
		metric.WithDescription("Total recording reconciliations by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("reflector.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveMeetings, err = m.Int64UpDownCounter("reflector.active_meetings",
		metric.WithDescription("Number of currently active platform meetings."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("reflector.active_subscribers",
		metric.WithDescription("Number of live websocket event subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("reflector.http.request.duration",
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

// RecordStage records one pipeline stage execution with its outcome.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordPipelineRun records one terminal pipeline outcome.
func (m *Metrics) RecordPipelineRun(ctx context.Context, pipeline, status string) {
	m.PipelineRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("status", status),
		),
	)
}

// RecordEventPublished records one broadcast event by type.
func (m *Metrics) RecordEventPublished(ctx context.Context, event string) {
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordReconcileOutcome records one reconciliation result.
func (m *Metrics) RecordReconcileOutcome(ctx context.Context, outcome string) {
	m.RecordingsReconciled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
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
