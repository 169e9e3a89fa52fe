package capture

import (
	"fmt"
	"sync/atomic"
)

// RenderFunc pulls frames of interleaved float32 samples into dst.
// A non-nil error means the platform could not render this period.
type RenderFunc func(dst []byte, frames int) error

// RenderCallback runs on the backend's real-time thread once per hardware
// period. It renders into a reused scratch region, copies the samples into a
// ring slot and posts them to the active dispatcher. It never blocks, never
// logs and only allocates when a buffer has to grow.
type RenderCallback struct {
	channels    int
	sampleRate  int
	maxFailures int

	pool       *BufferPool
	dispatcher atomic.Pointer[Dispatcher]
	escalate   func(error)

	// Owned by the render thread.
	scratch  []byte
	failures int

	periods atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64
}

// NewRenderCallback creates a render callback that fills slots from pool.
// escalate is called once per failure streak when maxFailures consecutive
// periods failed to render; it must not block.
func NewRenderCallback(opts StreamOptions, pool *BufferPool, escalate func(error)) *RenderCallback {
	return &RenderCallback{
		channels:    opts.Channels,
		sampleRate:  opts.SampleRate,
		maxFailures: opts.MaxRenderFailures,
		pool:        pool,
		escalate:    escalate,
	}
}

// Activate routes rendered periods to d. A nil d stops deliveries.
func (cb *RenderCallback) Activate(d *Dispatcher) {
	cb.dispatcher.Store(d)
}

// Period handles one hardware period of frames frames.
func (cb *RenderCallback) Period(frames int, render RenderFunc) {
	if frames <= 0 {
		return
	}
	cb.periods.Add(1)

	size := frames * cb.channels * BytesPerSample
	if cap(cb.scratch) < size {
		cb.scratch = make([]byte, roundUp(size))
	}
	dst := cb.scratch[:size]

	if err := render(dst, frames); err != nil {
		cb.skipped.Add(1)
		cb.failures++
		if cb.maxFailures > 0 && cb.failures == cb.maxFailures && cb.escalate != nil {
			cb.escalate(&StreamError{
				Description: fmt.Sprintf("render failed for %d consecutive periods: %v", cb.failures, err),
			})
		}
		return
	}
	cb.failures = 0

	d := cb.dispatcher.Load()
	if d == nil {
		return
	}

	buf, ok := cb.pool.Acquire(size)
	if !ok {
		cb.dropped.Add(1)
		return
	}
	copy(buf.buf[:size], dst)
	buf.Frames = frames
	buf.Channels = cb.channels
	buf.SampleRate = cb.sampleRate

	if !d.TrySend(Delivery{Kind: DeliveryData, Buffer: buf, Frames: frames, Channels: cb.channels}) {
		buf.Release()
	}
}

// release drops the scratch region. Call only after the stream stopped.
func (cb *RenderCallback) release() {
	cb.scratch = nil
	cb.failures = 0
}

// Periods returns the number of non-empty periods seen.
func (cb *RenderCallback) Periods() uint64 {
	return cb.periods.Load()
}

// Skipped returns the number of periods whose render failed.
func (cb *RenderCallback) Skipped() uint64 {
	return cb.skipped.Load()
}

// Dropped returns the number of periods dropped because the ring slot was busy.
func (cb *RenderCallback) Dropped() uint64 {
	return cb.dropped.Load()
}
