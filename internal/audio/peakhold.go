package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak is shown before it may fall.
const DefaultPeakHoldDuration = 3 * time.Second

type heldPeak struct {
	level float64
	at    time.Time
}

func (h *heldPeak) update(level float64, now time.Time, hold time.Duration) float64 {
	if level >= h.level || now.Sub(h.at) > hold {
		h.level = level
		h.at = now
	}
	return h.level
}

// PeakHolder keeps the highest recent peak per channel for VU meters.
// It is safe for concurrent use.
type PeakHolder struct {
	mu    sync.Mutex
	left  heldPeak
	right heldPeak
	hold  time.Duration
}

// NewPeakHolder creates a peak holder with DefaultPeakHoldDuration.
func NewPeakHolder() *PeakHolder {
	p := &PeakHolder{hold: DefaultPeakHoldDuration}
	p.Reset()
	return p
}

// Update records new peaks and returns the held values.
func (p *PeakHolder) Update(peakL, peakR float64, now time.Time) (heldL, heldR float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.left.update(peakL, now, p.hold), p.right.update(peakR, now, p.hold)
}

// Reset drops held peaks back to MinDB.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = heldPeak{level: MinDB}
	p.right = heldPeak{level: MinDB}
}
