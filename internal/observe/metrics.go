// Package observe provides observability primitives for voxlate:
// OpenTelemetry metrics with a Prometheus exporter bridge so the pipeline
// can be scraped via a standard /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. Tests should
// use [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlate metrics.
const meterName = "github.com/voxlate/voxlate"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. Instruments must never be recorded from the
// audio render callback; counters touched near the block path are
// incremented from control-thread code only.
type Metrics struct {
	// FramesEncoded counts capture frames emitted to the transport.
	FramesEncoded metric.Int64Counter

	// FramesPlayed counts inbound frames scheduled for playback.
	FramesPlayed metric.Int64Counter

	// FramesDropped counts inbound frames dropped as malformed.
	FramesDropped metric.Int64Counter

	// PlaybackUnderruns counts scheduling gaps caused by late delivery.
	PlaybackUnderruns metric.Int64Counter

	// StillCaptures counts on-demand video still captures. Use with
	// attribute.String("status", "ok"|"none").
	StillCaptures metric.Int64Counter

	// EnqueueLatency tracks the delay between a frame arriving and its
	// scheduled playback start.
	EnqueueLatency metric.Float64Histogram

	// ActiveSessions tracks the number of live capture sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for playback scheduling latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesEncoded, err = m.Int64Counter("voxlate.capture.frames_encoded",
		metric.WithDescription("Capture frames emitted to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("voxlate.playback.frames_played",
		metric.WithDescription("Inbound frames scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlate.playback.frames_dropped",
		metric.WithDescription("Inbound frames dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("voxlate.playback.underruns",
		metric.WithDescription("Scheduling gaps caused by late frame delivery."),
	); err != nil {
		return nil, err
	}
	if met.StillCaptures, err = m.Int64Counter("voxlate.capture.stills",
		metric.WithDescription("On-demand video still captures by status."),
	); err != nil {
		return nil, err
	}
	if met.EnqueueLatency, err = m.Float64Histogram("voxlate.playback.enqueue_latency",
		metric.WithDescription("Delay between frame arrival and scheduled playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlate.capture.active_sessions",
		metric.WithDescription("Live capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordStill increments the still-capture counter with the given status
// ("ok" or "none").
func (m *Metrics) RecordStill(ctx context.Context, status string) {
	m.StillCaptures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
