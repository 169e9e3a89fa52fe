package capture

import "sync/atomic"

// FrameBuffer is one ring slot, lent to the consumer for a single delivery.
type FrameBuffer struct {
	buf []byte
	n   int

	Frames     int
	Channels   int
	SampleRate int
	Seq        uint64

	lent atomic.Bool
}

// Bytes returns the filled region of interleaved float32 samples.
func (b *FrameBuffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Cap returns the allocated capacity of the slot.
func (b *FrameBuffer) Cap() int {
	return cap(b.buf)
}

// Release hands the slot back to the pool.
// Releasing a slot that is not lent is a programming error and panics.
func (b *FrameBuffer) Release() {
	if !b.lent.CompareAndSwap(true, false) {
		panic("capture: frame buffer released twice")
	}
}

// BufferPool is a fixed ring of reusable frame buffers shared between one
// producer (the render thread) and one consumer (the dispatcher loop).
// A slot is owned by exactly one side at a time.
type BufferPool struct {
	slots    []FrameBuffer
	seq      uint64
	capacity atomic.Int64
}

// NewBufferPool creates a ring of size slots. Sizes below 2 are raised to 2.
func NewBufferPool(size int) *BufferPool {
	if size < 2 {
		size = 2
	}
	return &BufferPool{slots: make([]FrameBuffer, size)}
}

// Acquire lends the next slot in ring order with at least minBytes of room.
// It returns false when that slot is still held by the consumer.
// Only the producer may call Acquire.
func (p *BufferPool) Acquire(minBytes int) (*FrameBuffer, bool) {
	if minBytes < 0 {
		minBytes = 0
	}
	slot := &p.slots[p.seq%uint64(len(p.slots))]
	if slot.lent.Load() {
		return nil, false
	}

	want := roundUp(minBytes)
	if hw := int(p.capacity.Load()); hw > want {
		want = hw
	}
	if cap(slot.buf) < want {
		slot.buf = make([]byte, want)
		if int64(want) > p.capacity.Load() {
			p.capacity.Store(int64(want))
		}
	}

	slot.buf = slot.buf[:cap(slot.buf)]
	slot.n = minBytes
	slot.Seq = p.seq
	p.seq++
	slot.lent.Store(true)
	return slot, true
}

// Capacity returns the high-water slot capacity in bytes. It never decreases
// until Reset.
func (p *BufferPool) Capacity() int {
	return int(p.capacity.Load())
}

// Size returns the number of ring slots.
func (p *BufferPool) Size() int {
	return len(p.slots)
}

// Outstanding returns the number of slots currently lent to the consumer.
func (p *BufferPool) Outstanding() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].lent.Load() {
			n++
		}
	}
	return n
}

// Reset drops every slot allocation. Call only once producer and consumer
// have both stopped.
func (p *BufferPool) Reset() {
	for i := range p.slots {
		p.slots[i].buf = nil
		p.slots[i].n = 0
		p.slots[i].lent.Store(false)
	}
	p.seq = 0
	p.capacity.Store(0)
}
