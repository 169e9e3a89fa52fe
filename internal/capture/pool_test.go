package capture

import "testing"

func TestBufferPoolAcquireSize(t *testing.T) {
	p := NewBufferPool(4)

	tests := []struct {
		name     string
		minBytes int
		wantCap  int
	}{
		{"zero", 0, 0},
		{"one period", 3840, allocationGranularity},
		{"exact granularity", allocationGranularity, allocationGranularity},
		{"one over", allocationGranularity + 1, 2 * allocationGranularity},
		{"smaller again", 100, 2 * allocationGranularity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, ok := p.Acquire(tt.minBytes)
			if !ok {
				t.Fatal("Acquire() failed on a free slot")
			}
			if got := len(buf.Bytes()); got != tt.minBytes {
				t.Errorf("len(Bytes()) = %d, want %d", got, tt.minBytes)
			}
			if buf.Cap() < tt.minBytes {
				t.Errorf("Cap() = %d, smaller than requested %d", buf.Cap(), tt.minBytes)
			}
			if got := p.Capacity(); got != tt.wantCap {
				t.Errorf("Capacity() = %d, want %d", got, tt.wantCap)
			}
			buf.Release()
		})
	}
}

func TestBufferPoolCapacityMonotonic(t *testing.T) {
	p := NewBufferPool(3)
	sizes := []int{3840, 200000, 10, 70000, 0, 1}
	prev := 0
	for _, n := range sizes {
		buf, ok := p.Acquire(n)
		if !ok {
			t.Fatalf("Acquire(%d) failed", n)
		}
		if p.Capacity() < prev {
			t.Fatalf("Capacity() shrank from %d to %d", prev, p.Capacity())
		}
		if buf.Cap() < p.Capacity() {
			t.Errorf("slot capacity %d below high-water %d", buf.Cap(), p.Capacity())
		}
		prev = p.Capacity()
		buf.Release()
	}
}

func TestBufferPoolBusySlot(t *testing.T) {
	p := NewBufferPool(2)

	a, ok := p.Acquire(16)
	if !ok {
		t.Fatal("first Acquire() failed")
	}
	b, ok := p.Acquire(16)
	if !ok {
		t.Fatal("second Acquire() failed")
	}
	if a == b {
		t.Fatal("Acquire() lent the same slot twice")
	}
	if _, ok := p.Acquire(16); ok {
		t.Fatal("Acquire() succeeded while every slot is lent")
	}
	if got := p.Outstanding(); got != 2 {
		t.Errorf("Outstanding() = %d, want 2", got)
	}

	a.Release()
	c, ok := p.Acquire(16)
	if !ok {
		t.Fatal("Acquire() failed after release")
	}
	if c != a {
		t.Error("Acquire() did not reuse the released slot in ring order")
	}
	b.Release()
	c.Release()
}

func TestBufferPoolSequence(t *testing.T) {
	p := NewBufferPool(2)
	for want := uint64(0); want < 5; want++ {
		buf, ok := p.Acquire(8)
		if !ok {
			t.Fatal("Acquire() failed")
		}
		if buf.Seq != want {
			t.Errorf("Seq = %d, want %d", buf.Seq, want)
		}
		buf.Release()
	}
}

func TestBufferPoolMinimumSize(t *testing.T) {
	if got := NewBufferPool(0).Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestFrameBufferDoubleRelease(t *testing.T) {
	p := NewBufferPool(2)
	buf, _ := p.Acquire(8)
	buf.Release()

	defer func() {
		if recover() == nil {
			t.Error("second Release() did not panic")
		}
	}()
	buf.Release()
}

func TestBufferPoolReset(t *testing.T) {
	p := NewBufferPool(2)
	buf, _ := p.Acquire(100)
	buf.Release()
	p.Reset()

	if got := p.Capacity(); got != 0 {
		t.Errorf("Capacity() after Reset = %d, want 0", got)
	}
	if got := p.Outstanding(); got != 0 {
		t.Errorf("Outstanding() after Reset = %d, want 0", got)
	}
}
