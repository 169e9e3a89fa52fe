// Package capture streams system audio from a platform real-time thread to a
// consumer goroutine.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Callbacks receive session events on the consumer goroutine, in order:
// OnStart once, OnData for each delivered period, then OnStop once.
// Callbacks must not call Wait on their own session.
type Callbacks struct {
	OnStart func()
	// OnStop receives nil after an explicit Stop and the failure otherwise.
	OnStop func(err error)
	// OnData receives interleaved float32 samples. buf is only valid until
	// OnData returns.
	OnData func(buf []byte, frames, channels int)
}

// Stats is a snapshot of session counters.
type Stats struct {
	Periods        uint64 `json:"periods"`
	Delivered      uint64 `json:"delivered"`
	Dropped        uint64 `json:"dropped"`
	Skipped        uint64 `json:"skipped"`
	QueueDepth     int    `json:"queue_depth"`
	BufferCapacity int    `json:"buffer_capacity"`
}

// Session is one capture run: a platform stream, its render callback, a
// buffer ring and a dispatcher. A Session is started once; restarting
// means creating a new one.
type Session struct {
	id        string
	backend   Backend
	opts      StreamOptions
	callbacks Callbacks
	log       *slog.Logger

	pool       *BufferPool
	dispatcher *Dispatcher
	render     *RenderCallback

	mu            sync.Mutex
	state         State
	err           error
	stream        Stream
	device        Device
	startedAt     time.Time
	stopRequested bool

	stopCh   chan struct{}
	failCh   chan error
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

// New creates an idle session. Zero option fields take their defaults.
func New(backend Backend, opts StreamOptions, cb Callbacks) *Session {
	opts = opts.WithDefaults()
	id := uuid.NewString()
	s := &Session{
		id:        id,
		backend:   backend,
		opts:      opts,
		callbacks: cb,
		log:       slog.With("session", id, "backend", backend.Name()),
		state:     StateIdle,
		pool:      NewBufferPool(opts.RingSize),
		stopCh:    make(chan struct{}),
		failCh:    make(chan error, 1),
		done:      make(chan struct{}),
	}
	s.dispatcher = NewDispatcher(opts.QueueCapacity, s.handle)
	s.render = NewRenderCallback(opts, s.pool, s.streamFailed)
	return s
}

// Start creates a session and starts it.
func Start(ctx context.Context, backend Backend, opts StreamOptions, cb Callbacks) (*Session, error) {
	s := New(backend, opts, cb)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Start authorizes, resolves the target and opens the platform stream. It
// returns after OnStart has run. A setup failure leaves the session in
// StateError with no platform resources held.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.log.Info("starting audio capture", "target", s.opts.Target.String())

	dev, stream, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateError
		s.err = err
		s.mu.Unlock()
		s.finish()
		s.log.Error("audio capture failed to start", "error", err)
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.device = dev
	s.mu.Unlock()
	register(s)

	s.dispatcher.Start()
	if err := s.dispatcher.Send(context.Background(), Delivery{Kind: DeliveryStarted}); err != nil {
		s.log.Warn("failed to deliver start event", "error", err)
	}
	s.render.Activate(s.dispatcher)

	s.mu.Lock()
	s.state = StateRunning
	s.startedAt = time.Now()
	pending := s.stopRequested
	s.mu.Unlock()

	go s.watch()
	s.log.Info("audio capture running", "device", dev.Name)

	if pending {
		s.Stop()
	}
	return nil
}

func (s *Session) open(ctx context.Context) (Device, Stream, error) {
	if err := s.opts.Validate(); err != nil {
		return Device{}, nil, &ConfigurationError{Step: StepOptions, Err: err}
	}

	if a, ok := s.backend.(Authorizer); ok {
		if err := a.Authorize(ctx); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				return Device{}, nil, err
			}
			return Device{}, nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}

	dev, err := s.backend.Resolve(ctx, s.opts.Target)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return Device{}, nil, err
		}
		return Device{}, nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	stream, err := s.backend.Open(ctx, dev, s.opts, StreamCallbacks{
		Period: s.render.Period,
		Failed: s.streamFailed,
	})
	if err != nil {
		if !errors.Is(err, ErrConfiguration) {
			err = &ConfigurationError{Step: StepStart, Err: err}
		}
		return Device{}, nil, err
	}
	return dev, stream, nil
}

// Stop requests teardown and returns without waiting; use Wait or Done for
// completion. During Starting the request is deferred until the stream is
// running. In every other state Stop does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarting:
		s.stopRequested = true
	case StateRunning:
		s.state = StateStopping
		s.stopOnce.Do(func() { close(s.stopCh) })
	}
}

// streamFailed reports a platform failure from any thread.
func (s *Session) streamFailed(err error) {
	if err == nil {
		err = ErrStreamStopped
	}
	select {
	case s.failCh <- err:
	default:
	}
}

func (s *Session) watch() {
	select {
	case <-s.stopCh:
		s.teardown(nil)
	case err := <-s.failCh:
		select {
		case <-s.stopCh:
			err = nil
		default:
		}
		s.teardown(err)
	}
}

// teardown stops and releases the stream, delivers the stopped event and
// waits for the consumer loop to exit.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopping
	}
	stream := s.stream
	s.mu.Unlock()

	if cause != nil {
		s.log.Warn("audio stream failed", "error", cause)
	} else {
		s.log.Info("stopping audio capture")
	}

	s.render.Activate(nil)

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("audio stream teardown incomplete", "error", err)
	}

	if err := s.dispatcher.Send(context.Background(), Delivery{Kind: DeliveryStopped, Err: cause}); err != nil {
		s.log.Warn("failed to deliver stop event", "error", err)
	}
	<-s.dispatcher.Done()

	s.render.release()
	s.pool.Reset()

	s.mu.Lock()
	s.state = StateStopped
	s.err = cause
	s.stream = nil
	s.mu.Unlock()

	unregister(s)
	s.finish()

	st := s.Stats()
	s.log.Info("audio capture stopped",
		"periods", st.Periods, "delivered", st.Delivered, "dropped", st.Dropped, "skipped", st.Skipped)
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) handle(del Delivery) {
	switch del.Kind {
	case DeliveryStarted:
		if s.callbacks.OnStart != nil {
			s.callbacks.OnStart()
		}
	case DeliveryData:
		if s.callbacks.OnData != nil {
			s.callbacks.OnData(del.Buffer.Bytes(), del.Frames, del.Channels)
		}
	case DeliveryStopped:
		if s.callbacks.OnStop != nil {
			s.callbacks.OnStop(del.Err)
		}
	}
}

// Wait blocks until the session reached a terminal state or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason for StateError or an abnormal stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Device returns the resolved capture device.
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// StartedAt returns when the session reached StateRunning.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Options returns the effective stream options.
func (s *Session) Options() StreamOptions {
	return s.opts
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Periods:        s.render.Periods(),
		Delivered:      s.dispatcher.Delivered(),
		Dropped:        s.render.Dropped() + s.dispatcher.Dropped(),
		Skipped:        s.render.Skipped(),
		QueueDepth:     s.dispatcher.Pending(),
		BufferCapacity: s.pool.Capacity(),
	}
}
