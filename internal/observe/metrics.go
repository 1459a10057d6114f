// Package observe provides application-wide observability primitives for
// rdiovox: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all rdiovox metrics.
const meterName = "github.com/MrWong99/rdiovox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline latency histograms ---

	// EncodeDuration tracks how long encoding a finished recording takes,
	// including the intermediate WAV and the transcoder chain.
	EncodeDuration metric.Float64Histogram

	// UploadDuration tracks the full upload exchange latency.
	UploadDuration metric.Float64Histogram

	// --- Audio ---

	// AudioLevel tracks the RMS level distribution of observed audio.
	// Recorded from the capture loop's periodic snapshots, not per frame.
	AudioLevel metric.Float64Histogram

	// RecordingDuration tracks the audio length of finished recordings.
	RecordingDuration metric.Float64Histogram

	// FramesRead counts captured audio frames.
	FramesRead metric.Int64Counter

	// --- Sessions ---

	// Sessions counts finished recording sessions. Use with attribute:
	//   attribute.String("outcome", ...), e.g. "uploaded", "too_short",
	//   "silent", "encode_failed", "upload_failed", "queue_dropped",
	//   "abandoned"
	Sessions metric.Int64Counter

	// QueueDepth tracks how many finished recordings are waiting for the
	// upload worker.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// encode and upload stages.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// levelBuckets defines bucket boundaries for RMS audio levels in [0, 1].
var levelBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// recordingBuckets defines bucket boundaries (in seconds) for recording
// lengths, from just above the minimum duration up to very long transmissions.
var recordingBuckets = []float64{
	1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("rdiovox.encode.duration",
		metric.WithDescription("Latency of encoding a finished recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("rdiovox.upload.duration",
		metric.WithDescription("Latency of the call-upload exchange."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Histogram("rdiovox.audio.level",
		metric.WithDescription("RMS level of observed audio."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("rdiovox.recording.duration",
		metric.WithDescription("Audio length of finished recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesRead, err = m.Int64Counter("rdiovox.audio.frames",
		metric.WithDescription("Total audio frames captured from the input device."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("rdiovox.sessions",
		metric.WithDescription("Total finished recording sessions by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("rdiovox.queue.depth",
		metric.WithDescription("Finished recordings waiting for the upload worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("rdiovox.http.request.duration",
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

// RecordSession is a convenience method that records a finished session with
// its outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEncode is a convenience method that records one encode run.
func (m *Metrics) RecordEncode(ctx context.Context, d time.Duration, status string) {
	m.EncodeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordUpload is a convenience method that records one upload exchange.
func (m *Metrics) RecordUpload(ctx context.Context, d time.Duration, status string) {
	m.UploadDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}
