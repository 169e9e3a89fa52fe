package observe

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

func newTestMetrics(t *testing.T, source StatsSource) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp, source)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestObservedStats(t *testing.T) {
	snap := Snapshot{
		Stats: capture.Stats{Periods: 120, Delivered: 100, Dropped: 15, Skipped: 5, QueueDepth: 3, BufferCapacity: 65536},
		State: capture.StateRunning,
	}
	_, reader := newTestMetrics(t, func() Snapshot { return snap })

	rm := collect(t, reader)

	sums := map[string]int64{
		"syscapture.capture.periods":   120,
		"syscapture.capture.delivered": 100,
		"syscapture.capture.dropped":   15,
		"syscapture.capture.skipped":   5,
	}
	for name, want := range sums {
		m := findMetric(rm, name)
		if m == nil {
			t.Errorf("metric %s not found", name)
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Errorf("%s: data = %T", name, m.Data)
			continue
		}
		if !sum.IsMonotonic {
			t.Errorf("%s is not monotonic", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}

	gauges := map[string]int64{
		"syscapture.capture.queue_depth":     3,
		"syscapture.capture.buffer_capacity": 65536,
		"syscapture.capture.running":         1,
	}
	for name, want := range gauges {
		m := findMetric(rm, name)
		if m == nil {
			t.Errorf("metric %s not found", name)
			continue
		}
		g, ok := m.Data.(metricdata.Gauge[int64])
		if !ok || len(g.DataPoints) != 1 {
			t.Errorf("%s: data = %T", name, m.Data)
			continue
		}
		if got := g.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestLevelGauge(t *testing.T) {
	_, reader := newTestMetrics(t, func() Snapshot {
		return Snapshot{State: capture.StateStopped, LevelsDB: []float64{-12, -18}}
	})

	m := findMetric(collect(t, reader), "syscapture.audio.level")
	if m == nil {
		t.Fatal("level metric not found")
	}
	g, ok := m.Data.(metricdata.Gauge[float64])
	if !ok {
		t.Fatalf("data = %T", m.Data)
	}
	got := map[string]float64{}
	for _, dp := range g.DataPoints {
		ch, _ := dp.Attributes.Value(attribute.Key("channel"))
		got[ch.AsString()] = dp.Value
	}
	if got["left"] != -12 || got["right"] != -18 {
		t.Errorf("levels = %v", got)
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t, func() Snapshot { return Snapshot{} })
	ctx := context.Background()

	m.RecordSessionStart(ctx, nil)
	m.RecordSessionStart(ctx, nil)
	m.RecordSessionStart(ctx, errors.New("no device"))
	m.Restarts.Add(ctx, 1)
	m.RecordSilence(ctx, true)

	rm := collect(t, reader)
	sessions := findMetric(rm, "syscapture.sessions")
	if sessions == nil {
		t.Fatal("sessions metric not found")
	}
	sum := sessions.Data.(metricdata.Sum[int64])
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("result"))
		got[v.AsString()] = dp.Value
	}
	if got["ok"] != 2 || got["error"] != 1 {
		t.Errorf("sessions = %v", got)
	}
	if findMetric(rm, "syscapture.restarts") == nil {
		t.Error("restarts metric not found")
	}
}

func TestProviderHandler(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider, func() Snapshot {
		return Snapshot{Stats: capture.Stats{Periods: 7}}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "syscapture_capture_periods") {
		t.Errorf("metrics output missing capture periods:\n%s", body)
	}
}
