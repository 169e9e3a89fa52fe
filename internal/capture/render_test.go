package capture

import (
	"context"
	"errors"
	"testing"
)

func fillConst(v byte) RenderFunc {
	return func(dst []byte, _ int) error {
		for i := range dst {
			dst[i] = v
		}
		return nil
	}
}

func failRender(dst []byte, _ int) error {
	return ErrRenderPeriodSkipped
}

func TestRenderCallbackDelivers(t *testing.T) {
	opts := DefaultOptions()
	pool := NewBufferPool(opts.RingSize)
	cb := NewRenderCallback(opts, pool, nil)

	var sizes []int
	d := NewDispatcher(opts.QueueCapacity, func(del Delivery) {
		if del.Kind != DeliveryData {
			return
		}
		b := del.Buffer.Bytes()
		sizes = append(sizes, len(b))
		if b[0] != 7 || b[len(b)-1] != 7 {
			t.Errorf("delivered samples not copied from render")
		}
	})
	cb.Activate(d)

	for i := 0; i < 10; i++ {
		cb.Period(480, fillConst(7))
	}
	d.Start()
	if err := d.Send(context.Background(), Delivery{Kind: DeliveryStopped}); err != nil {
		t.Fatal(err)
	}

	if len(sizes) != 10 {
		t.Fatalf("delivered %d periods, want 10", len(sizes))
	}
	for _, n := range sizes {
		if n != 480*2*4 {
			t.Errorf("delivery size = %d, want 3840", n)
		}
	}
}

func TestRenderCallbackZeroFrames(t *testing.T) {
	opts := DefaultOptions()
	cb := NewRenderCallback(opts, NewBufferPool(2), nil)
	d := NewDispatcher(4, nil)
	cb.Activate(d)

	called := false
	cb.Period(0, func([]byte, int) error { called = true; return nil })

	if called {
		t.Error("render called for an empty period")
	}
	if d.Pending() != 0 || cb.Periods() != 0 {
		t.Errorf("empty period was counted or queued")
	}
}

func TestRenderCallbackInactive(t *testing.T) {
	opts := DefaultOptions()
	pool := NewBufferPool(2)
	cb := NewRenderCallback(opts, pool, nil)

	cb.Period(480, fillConst(1))

	if pool.Outstanding() != 0 {
		t.Error("slot acquired without an active dispatcher")
	}
	if cb.Periods() != 1 {
		t.Errorf("Periods() = %d, want 1", cb.Periods())
	}
}

func TestRenderCallbackSkipsFailedRender(t *testing.T) {
	opts := DefaultOptions()
	cb := NewRenderCallback(opts, NewBufferPool(2), func(error) {
		t.Error("escalated with MaxRenderFailures = 0")
	})
	d := NewDispatcher(4, nil)
	cb.Activate(d)

	for i := 0; i < 5; i++ {
		cb.Period(480, failRender)
	}

	if cb.Skipped() != 5 {
		t.Errorf("Skipped() = %d, want 5", cb.Skipped())
	}
	if d.Pending() != 0 {
		t.Errorf("failed periods were queued")
	}
}

func TestRenderCallbackEscalates(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRenderFailures = 3

	var escalations []error
	cb := NewRenderCallback(opts, NewBufferPool(2), func(err error) {
		escalations = append(escalations, err)
	})

	cb.Period(480, failRender)
	cb.Period(480, failRender)
	cb.Period(480, fillConst(0)) // resets the streak
	for i := 0; i < 5; i++ {
		cb.Period(480, failRender)
	}

	if len(escalations) != 1 {
		t.Fatalf("escalated %d times, want 1", len(escalations))
	}
	if !errors.Is(escalations[0], ErrStreamStopped) {
		t.Errorf("escalation error = %v, want ErrStreamStopped", escalations[0])
	}
}

func TestRenderCallbackDropsWhenFull(t *testing.T) {
	opts := DefaultOptions()
	opts.QueueCapacity = 2
	opts.RingSize = 8
	pool := NewBufferPool(opts.RingSize)
	cb := NewRenderCallback(opts, pool, nil)
	d := NewDispatcher(opts.QueueCapacity, nil)
	cb.Activate(d)

	for i := 0; i < 10; i++ {
		cb.Period(480, fillConst(0))
	}

	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}
	if got := d.Dropped() + cb.Dropped(); got != 8 {
		t.Errorf("dropped = %d, want 8", got)
	}
	if pool.Outstanding() != 2 {
		t.Errorf("Outstanding() = %d, want 2 (rejected slots must return to the ring)", pool.Outstanding())
	}
}

func TestRenderCallbackScratchReused(t *testing.T) {
	opts := DefaultOptions()
	cb := NewRenderCallback(opts, NewBufferPool(2), nil)

	var first, second *byte
	cb.Period(480, func(dst []byte, _ int) error { first = &dst[0]; return nil })
	cb.Period(240, func(dst []byte, _ int) error { second = &dst[0]; return nil })

	if first != second {
		t.Error("scratch region reallocated for a smaller period")
	}
}
