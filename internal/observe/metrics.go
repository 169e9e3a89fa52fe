// Package observe exposes capture statistics through OpenTelemetry metrics.
//
// Counters that the capture core already keeps (periods, deliveries, drops,
// skipped periods) are reported through observable instruments that read a
// [StatsSource] at collection time, so the real-time path never touches
// the metrics SDK. A Prometheus exporter bridge is available via
// [InitProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oszuidwest/zwfm-syscapture"

// Snapshot is what a StatsSource reports at collection time.
type Snapshot struct {
	// Stats are cumulative over the process lifetime except QueueDepth and
	// BufferCapacity, which describe the current session.
	Stats capture.Stats
	State capture.State
	// LevelsDB holds the latest RMS level per channel in dBFS.
	LevelsDB []float64
}

// StatsSource returns the current capture snapshot.
type StatsSource func() Snapshot

// Metrics holds the capture metric instruments.
type Metrics struct {
	// SessionStarts counts capture sessions by outcome. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	SessionStarts metric.Int64Counter

	// Restarts counts automatic restarts after a stream failure.
	Restarts metric.Int64Counter

	// SilenceEvents counts silence transitions. Use with attribute:
	//   attribute.String("transition", "start"|"end")
	SilenceEvents metric.Int64Counter

	registration metric.Registration
}

// NewMetrics creates the instruments on mp and registers a callback that
// reads source on every collection.
func NewMetrics(mp metric.MeterProvider, source StatsSource) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionStarts, err = m.Int64Counter("syscapture.sessions",
		metric.WithDescription("Capture session start attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("syscapture.restarts",
		metric.WithDescription("Automatic capture restarts after a stream failure."),
	); err != nil {
		return nil, err
	}
	if met.SilenceEvents, err = m.Int64Counter("syscapture.silence.transitions",
		metric.WithDescription("Silence start and end transitions."),
	); err != nil {
		return nil, err
	}

	periods, err := m.Int64ObservableCounter("syscapture.capture.periods",
		metric.WithDescription("Render periods received from the audio device."))
	if err != nil {
		return nil, err
	}
	delivered, err := m.Int64ObservableCounter("syscapture.capture.delivered",
		metric.WithDescription("Periods delivered to the consumer."))
	if err != nil {
		return nil, err
	}
	dropped, err := m.Int64ObservableCounter("syscapture.capture.dropped",
		metric.WithDescription("Periods dropped because the consumer fell behind."))
	if err != nil {
		return nil, err
	}
	skipped, err := m.Int64ObservableCounter("syscapture.capture.skipped",
		metric.WithDescription("Periods skipped after a device render error."))
	if err != nil {
		return nil, err
	}
	queueDepth, err := m.Int64ObservableGauge("syscapture.capture.queue_depth",
		metric.WithDescription("Deliveries waiting for the consumer."))
	if err != nil {
		return nil, err
	}
	bufferCap, err := m.Int64ObservableGauge("syscapture.capture.buffer_capacity",
		metric.WithDescription("High-water capacity of a ring slot."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	running, err := m.Int64ObservableGauge("syscapture.capture.running",
		metric.WithDescription("1 while a capture session is running."))
	if err != nil {
		return nil, err
	}
	level, err := m.Float64ObservableGauge("syscapture.audio.level",
		metric.WithDescription("Latest RMS level per channel."),
		metric.WithUnit("dB"))
	if err != nil {
		return nil, err
	}

	met.registration, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source()
		o.ObserveInt64(periods, int64(snap.Stats.Periods))
		o.ObserveInt64(delivered, int64(snap.Stats.Delivered))
		o.ObserveInt64(dropped, int64(snap.Stats.Dropped))
		o.ObserveInt64(skipped, int64(snap.Stats.Skipped))
		o.ObserveInt64(queueDepth, int64(snap.Stats.QueueDepth))
		o.ObserveInt64(bufferCap, int64(snap.Stats.BufferCapacity))
		var up int64
		if snap.State == capture.StateRunning {
			up = 1
		}
		o.ObserveInt64(running, up)
		for i, db := range snap.LevelsDB {
			o.ObserveFloat64(level, db, metric.WithAttributes(channelAttr(i)))
		}
		return nil
	}, periods, delivered, dropped, skipped, queueDepth, bufferCap, running, level)
	if err != nil {
		return nil, err
	}
	return met, nil
}

// Close unregisters the collection callback.
func (m *Metrics) Close() error {
	return m.registration.Unregister()
}

// RecordSessionStart records a start attempt.
func (m *Metrics) RecordSessionStart(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSilence records a silence transition.
func (m *Metrics) RecordSilence(ctx context.Context, start bool) {
	transition := "end"
	if start {
		transition = "start"
	}
	m.SilenceEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

func channelAttr(i int) attribute.KeyValue {
	switch i {
	case 0:
		return attribute.String("channel", "left")
	case 1:
		return attribute.String("channel", "right")
	default:
		return attribute.Int("channel", i)
	}
}
