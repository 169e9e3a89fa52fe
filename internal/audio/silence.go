package audio

import (
	"sync"
	"time"
)

// SilenceConfig holds the thresholds for silence detection.
type SilenceConfig struct {
	Threshold  float64 // dBFS below which both channels count as silent
	DurationMs int64   // silence needed before it is confirmed
	RecoveryMs int64   // audio needed before confirmed silence ends
}

// SilenceEvent is the outcome of one SilenceDetector update.
type SilenceEvent struct {
	InSilence  bool
	DurationMs int64
	Level      SilenceLevel

	CurrentLevelL float64
	CurrentLevelR float64

	// Transitions, set only on the update where they happen.
	JustEntered     bool
	JustRecovered   bool
	TotalDurationMs int64
}

// SilenceDetector tracks silence across level updates.
// It is safe for concurrent use.
type SilenceDetector struct {
	mu         sync.Mutex
	quietSince time.Time
	loudSince  time.Time
	confirmed  bool
	lastQuiet  int64
}

// NewSilenceDetector creates a detector in the non-silent state.
func NewSilenceDetector() *SilenceDetector {
	return &SilenceDetector{}
}

// Update feeds the latest RMS levels and reports the detection state.
func (d *SilenceDetector) Update(dbL, dbR float64, cfg SilenceConfig, now time.Time) SilenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := SilenceEvent{CurrentLevelL: dbL, CurrentLevelR: dbR}

	if dbL < cfg.Threshold && dbR < cfg.Threshold {
		d.loudSince = time.Time{}
		if d.quietSince.IsZero() {
			d.quietSince = now
		}
		d.lastQuiet = now.Sub(d.quietSince).Milliseconds()

		if !d.confirmed && d.lastQuiet >= cfg.DurationMs {
			d.confirmed = true
			ev.JustEntered = true
		}
		if d.confirmed {
			ev.InSilence = true
			ev.DurationMs = d.lastQuiet
			ev.Level = SilenceLevelActive
		}
		return ev
	}

	if !d.confirmed {
		d.quietSince = time.Time{}
		return ev
	}

	// Confirmed silence only ends after RecoveryMs of continuous audio.
	if d.loudSince.IsZero() {
		d.loudSince = now
	}
	if now.Sub(d.loudSince).Milliseconds() < cfg.RecoveryMs {
		ev.InSilence = true
		ev.Level = SilenceLevelActive
		return ev
	}

	ev.JustRecovered = true
	ev.TotalDurationMs = d.lastQuiet
	d.confirmed = false
	d.lastQuiet = 0
	d.quietSince = time.Time{}
	d.loudSince = time.Time{}
	return ev
}

// Reset returns the detector to the non-silent state.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quietSince = time.Time{}
	d.loudSince = time.Time{}
	d.confirmed = false
	d.lastQuiet = 0
}
