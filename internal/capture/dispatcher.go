package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DeliveryKind identifies a Delivery.
type DeliveryKind int

// Delivery kinds.
const (
	DeliveryStarted DeliveryKind = iota
	DeliveryData
	DeliveryStopped
)

// String implements fmt.Stringer.
func (k DeliveryKind) String() string {
	switch k {
	case DeliveryStarted:
		return "started"
	case DeliveryData:
		return "data"
	case DeliveryStopped:
		return "stopped"
	default:
		return fmt.Sprintf("DeliveryKind(%d)", int(k))
	}
}

// Delivery is one queued event for the consumer.
type Delivery struct {
	Kind     DeliveryKind
	Buffer   *FrameBuffer // data only, released after the handler returns
	Frames   int
	Channels int
	Err      error // stopped only

	ack chan struct{}
}

// Handler consumes deliveries on the dispatcher goroutine.
type Handler func(Delivery)

// Dispatcher moves deliveries from the render thread to a single consumer
// goroutine in FIFO order. Data is posted with TrySend, which never blocks;
// lifecycle events use Send, which waits until the handler returned.
// The loop exits after handling the stopped delivery.
type Dispatcher struct {
	queue   chan Delivery
	handler Handler
	done    chan struct{}

	startOnce sync.Once
	closing   atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher with room for capacity pending deliveries.
func NewDispatcher(capacity int, handler Handler) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		queue:   make(chan Delivery, capacity),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start launches the consumer loop. Subsequent calls do nothing.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		del := <-d.queue
		d.deliver(del)
		if del.Kind == DeliveryStopped {
			return
		}
	}
}

func (d *Dispatcher) deliver(del Delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in capture consumer", "delivery", del.Kind, "panic", r, "stack", string(debug.Stack()))
		}
		if del.Buffer != nil {
			del.Buffer.Release()
		}
		if del.ack != nil {
			close(del.ack)
		}
	}()
	if del.Kind == DeliveryData {
		d.delivered.Add(1)
	}
	if d.handler != nil {
		d.handler(del)
	}
}

// TrySend queues a delivery without blocking. It returns false, counting a
// drop, when the queue is full or the terminal event was already accepted.
// On false the caller still owns del.Buffer.
func (d *Dispatcher) TrySend(del Delivery) bool {
	if d.closing.Load() {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- del:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Send queues a lifecycle delivery and waits until the handler has returned.
// Data deliveries must go through TrySend; sending one here panics.
// Once a stopped delivery has been accepted, further sends return
// ErrDispatcherClosed.
func (d *Dispatcher) Send(ctx context.Context, del Delivery) error {
	if del.Kind == DeliveryData {
		panic("capture: data deliveries must use TrySend")
	}
	if d.closing.Load() {
		return ErrDispatcherClosed
	}
	if del.Kind == DeliveryStopped && !d.closing.CompareAndSwap(false, true) {
		return ErrDispatcherClosed
	}

	del.ack = make(chan struct{})
	select {
	case d.queue <- del:
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-del.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the consumer loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued deliveries.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Delivered returns the number of data deliveries handed to the handler.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Dropped returns the number of deliveries rejected by TrySend.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
