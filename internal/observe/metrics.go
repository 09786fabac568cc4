// Package observe provides the observability primitives for livescribe:
// OpenTelemetry metrics and tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Instruments are created from a [metric.MeterProvider]. [InitProvider]
// installs a Prometheus exporter bridge so the same instruments can be
// scraped from /metrics. [DefaultMetrics] uses the global provider; tests
// should call [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Metrics holds every instrument. The OTel types synchronise internally, so
// a Metrics value is safe for concurrent use.
type Metrics struct {
	// FramesTotal counts captured frames accepted into the capture buffer.
	FramesTotal metric.Int64Counter

	// FramesDropped counts frames or increments that never reached the
	// recognizer. Attribute: reason (misaligned, rate, queue_full, closed).
	FramesDropped metric.Int64Counter

	// RecognizerDuration tracks recognizer call latency.
	// Attribute: mode (batch, stream).
	RecognizerDuration metric.Float64Histogram

	// RecognizerErrors counts failed recognizer calls. Attribute: mode.
	RecognizerErrors metric.Int64Counter

	// SegmentsTotal counts segments seen by the reconciler.
	// Attribute: kind (inserted, revised, ignored).
	SegmentsTotal metric.Int64Counter

	// GateChunks counts one-second chunks classified by the feed gate.
	// Attribute: result (accepted, silent).
	GateChunks metric.Int64Counter

	// QueueDepth tracks increments waiting for the recognizer.
	QueueDepth metric.Int64UpDownCounter

	// SessionsActive tracks running recordings and file jobs.
	SessionsActive metric.Int64UpDownCounter

	// HTTPRequestDuration tracks API latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for recognizer
// calls on windows of up to 30 s of audio.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesTotal, err = m.Int64Counter("livescribe.frames.total",
		metric.WithDescription("Captured frames accepted into the capture buffer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livescribe.frames.dropped",
		metric.WithDescription("Frames or increments dropped before recognition, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerDuration, err = m.Float64Histogram("livescribe.recognizer.duration",
		metric.WithDescription("Latency of recognizer calls by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("livescribe.recognizer.errors",
		metric.WithDescription("Failed recognizer calls by mode."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsTotal, err = m.Int64Counter("livescribe.segments.total",
		metric.WithDescription("Segments folded by the reconciler, by kind."),
	); err != nil {
		return nil, err
	}
	if met.GateChunks, err = m.Int64Counter("livescribe.gate.chunks",
		metric.WithDescription("Feed gate chunks by result."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("livescribe.queue.depth",
		metric.WithDescription("Conditioned increments waiting for the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.SessionsActive, err = m.Int64UpDownCounter("livescribe.sessions.active",
		metric.WithDescription("Running recordings and file transcriptions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from
// [otel.GetMeterProvider] on first use. It panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop counts one dropped frame or increment.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordRecognizerCall records the latency of one recognizer call and,
// when err is non-nil, an error.
func (m *Metrics) RecordRecognizerCall(ctx context.Context, mode string, d time.Duration, err error) {
	attrs := metric.WithAttributes(Attr("mode", mode))
	m.RecognizerDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.RecognizerErrors.Add(ctx, 1, attrs)
	}
}

// RecordSegment counts one reconciled segment.
func (m *Metrics) RecordSegment(ctx context.Context, kind string) {
	m.SegmentsTotal.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordGateChunk counts one feed gate decision.
func (m *Metrics) RecordGateChunk(ctx context.Context, accepted bool) {
	result := "silent"
	if accepted {
		result = "accepted"
	}
	m.GateChunks.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}
