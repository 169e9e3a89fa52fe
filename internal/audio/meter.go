package audio

import "time"

// DefaultUpdateFrames is the number of frames per level update (100 ms at 44.1 kHz).
const DefaultUpdateFrames = 4410

// Meter turns a stream of captured periods into periodic level updates.
// It is meant to be driven from a single goroutine.
type Meter struct {
	data         LevelData
	peaks        *PeakHolder
	silence      *SilenceDetector
	updateFrames int
}

// NewMeter creates a meter that emits one update per updateFrames frames.
func NewMeter(updateFrames int) *Meter {
	if updateFrames <= 0 {
		updateFrames = DefaultUpdateFrames
	}
	return &Meter{
		peaks:        NewPeakHolder(),
		silence:      NewSilenceDetector(),
		updateFrames: updateFrames,
	}
}

// Process accumulates one period. When enough frames were seen it returns
// the new levels and silence state with ok set.
func (m *Meter) Process(buf []byte, channels int, cfg SilenceConfig, now time.Time) (levels AudioLevels, ev SilenceEvent, ok bool) {
	ProcessSamples(buf, channels, &m.data)
	if m.data.SampleCount < m.updateFrames {
		return AudioLevels{}, SilenceEvent{}, false
	}

	l := CalculateLevels(&m.data)
	m.data.Reset()

	heldL, heldR := m.peaks.Update(l.PeakLeft, l.PeakRight, now)
	ev = m.silence.Update(l.RMSLeft, l.RMSRight, cfg, now)

	return AudioLevels{
		Left:              l.RMSLeft,
		Right:             l.RMSRight,
		PeakLeft:          heldL,
		PeakRight:         heldR,
		Silence:           ev.InSilence,
		SilenceDurationMs: ev.DurationMs,
		SilenceLevel:      ev.Level,
		ClipLeft:          l.ClipLeft,
		ClipRight:         l.ClipRight,
	}, ev, true
}

// Reset clears accumulated data, held peaks and silence state.
func (m *Meter) Reset() {
	m.data.Reset()
	m.peaks.Reset()
	m.silence.Reset()
}
