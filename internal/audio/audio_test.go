package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func stereo(frames int, left, right float32) []byte {
	buf := make([]byte, frames*8)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(left))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(right))
	}
	return buf
}

func TestCalculateLevels(t *testing.T) {
	tests := []struct {
		name        string
		left, right float32
		wantRMSL    float64
		wantRMSR    float64
		wantClipL   int
	}{
		{"silence", 0, 0, MinDB, MinDB, 0},
		{"full scale", 1, 1, 0, 0, 100},
		{"half scale left", 0.5, 0, -6.0206, MinDB, 0},
		{"below floor", 0.0001, 0.0001, MinDB, MinDB, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data LevelData
			ProcessSamples(stereo(100, tt.left, tt.right), 2, &data)
			got := CalculateLevels(&data)

			if math.Abs(got.RMSLeft-tt.wantRMSL) > 0.01 {
				t.Errorf("RMSLeft = %.4f, want %.4f", got.RMSLeft, tt.wantRMSL)
			}
			if math.Abs(got.RMSRight-tt.wantRMSR) > 0.01 {
				t.Errorf("RMSRight = %.4f, want %.4f", got.RMSRight, tt.wantRMSR)
			}
			if got.ClipLeft != tt.wantClipL {
				t.Errorf("ClipLeft = %d, want %d", got.ClipLeft, tt.wantClipL)
			}
		})
	}
}

func TestCalculateLevelsEmpty(t *testing.T) {
	got := CalculateLevels(&LevelData{})
	if got.RMSLeft != MinDB || got.PeakRight != MinDB {
		t.Errorf("empty levels = %+v, want MinDB", got)
	}
}

func TestProcessSamplesMono(t *testing.T) {
	buf := make([]byte, 4*10)
	for i := 0; i < 10; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(0.25))
	}
	var data LevelData
	ProcessSamples(buf, 1, &data)
	if data.SampleCount != 10 {
		t.Fatalf("SampleCount = %d, want 10", data.SampleCount)
	}
	if data.PeakL != data.PeakR {
		t.Errorf("mono peaks differ: %v vs %v", data.PeakL, data.PeakR)
	}
}

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	if l, _ := p.Update(-10, -10, now); l != -10 {
		t.Fatalf("held = %v, want -10", l)
	}
	if l, _ := p.Update(-30, -30, now.Add(time.Second)); l != -10 {
		t.Errorf("held = %v during hold, want -10", l)
	}
	if l, _ := p.Update(-30, -30, now.Add(4*time.Second)); l != -30 {
		t.Errorf("held = %v after hold, want -30", l)
	}
	p.Reset()
	if l, r := p.Update(MinDB, MinDB, now); l != MinDB || r != MinDB {
		t.Errorf("held after Reset = %v/%v", l, r)
	}
}

func TestSilenceDetector(t *testing.T) {
	cfg := SilenceConfig{Threshold: -40, DurationMs: 1000, RecoveryMs: 500}
	d := NewSilenceDetector()
	t0 := time.Now()

	if ev := d.Update(-50, -50, cfg, t0); ev.InSilence {
		t.Fatal("silence confirmed before duration elapsed")
	}
	ev := d.Update(-50, -50, cfg, t0.Add(1200*time.Millisecond))
	if !ev.JustEntered || !ev.InSilence || ev.Level != SilenceLevelActive {
		t.Fatalf("event = %+v, want entered silence", ev)
	}
	if ev := d.Update(-50, -50, cfg, t0.Add(1500*time.Millisecond)); ev.JustEntered {
		t.Error("JustEntered reported twice")
	}

	ev = d.Update(-10, -10, cfg, t0.Add(2*time.Second))
	if !ev.InSilence || ev.JustRecovered {
		t.Fatalf("event = %+v, want still silent during recovery", ev)
	}
	ev = d.Update(-10, -10, cfg, t0.Add(2600*time.Millisecond))
	if !ev.JustRecovered || ev.InSilence {
		t.Fatalf("event = %+v, want recovered", ev)
	}
	if ev.TotalDurationMs != 1500 {
		t.Errorf("TotalDurationMs = %d, want 1500", ev.TotalDurationMs)
	}
}

func TestSilenceDetectorShortDip(t *testing.T) {
	cfg := SilenceConfig{Threshold: -40, DurationMs: 1000, RecoveryMs: 500}
	d := NewSilenceDetector()
	t0 := time.Now()

	d.Update(-50, -50, cfg, t0)
	d.Update(-10, -10, cfg, t0.Add(500*time.Millisecond))
	if ev := d.Update(-50, -50, cfg, t0.Add(1100*time.Millisecond)); ev.InSilence {
		t.Error("silence confirmed although audio interrupted the dip")
	}
}

func TestSilenceDetectorReset(t *testing.T) {
	cfg := SilenceConfig{Threshold: -40, DurationMs: 1000, RecoveryMs: 500}
	d := NewSilenceDetector()
	t0 := time.Now()

	d.Update(-50, -50, cfg, t0)
	if ev := d.Update(-50, -50, cfg, t0.Add(1100*time.Millisecond)); !ev.JustEntered {
		t.Fatalf("event = %+v, want entered silence", ev)
	}

	d.Reset()
	ev := d.Update(-50, -50, cfg, t0.Add(1200*time.Millisecond))
	if ev.InSilence || ev.JustRecovered {
		t.Fatalf("event = %+v after Reset, want a fresh quiet period", ev)
	}
	if ev := d.Update(-50, -50, cfg, t0.Add(2300*time.Millisecond)); !ev.JustEntered {
		t.Errorf("event = %+v, want silence confirmed again after Reset", ev)
	}
	d.Reset()
	d.Reset()
}

func TestMeterReset(t *testing.T) {
	m := NewMeter(441)
	cfg := SilenceConfig{Threshold: -40, DurationMs: 10000, RecoveryMs: 1000}
	now := time.Now()

	m.Process(stereo(240, 0.5, 0.5), 2, cfg, now)
	m.Reset()
	if _, _, ok := m.Process(stereo(240, 0.5, 0.5), 2, cfg, now); ok {
		t.Fatal("update emitted from samples accumulated before Reset")
	}
	if _, _, ok := m.Process(stereo(240, 0.5, 0.5), 2, cfg, now); !ok {
		t.Error("no update after window filled following Reset")
	}
}

func TestMeter(t *testing.T) {
	m := NewMeter(441)
	cfg := SilenceConfig{Threshold: -40, DurationMs: 10000, RecoveryMs: 1000}
	now := time.Now()

	if _, _, ok := m.Process(stereo(240, 0.5, 0.5), 2, cfg, now); ok {
		t.Fatal("update emitted before window filled")
	}
	levels, _, ok := m.Process(stereo(240, 0.5, 0.5), 2, cfg, now)
	if !ok {
		t.Fatal("no update after window filled")
	}
	if math.Abs(levels.Left+6.02) > 0.05 {
		t.Errorf("Left = %.2f, want about -6.02", levels.Left)
	}
	if _, _, ok := m.Process(stereo(240, 0.5, 0.5), 2, cfg, now); ok {
		t.Error("accumulator not reset after update")
	}
}
