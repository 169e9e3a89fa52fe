// Package simulated provides a capture backend driven by a Go ticker instead
// of audio hardware. It generates a sine tone and can inject every failure a
// platform backend reports.
package simulated

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// DefaultPeriodFrames is the period size used when none is configured.
const DefaultPeriodFrames = 480

// DeviceID is the identifier of the simulated output device.
const DeviceID = "simulated-output"

// Config controls the synthetic stream and fault injection.
type Config struct {
	// PeriodFrames is the number of frames per period.
	PeriodFrames int
	// Manual disables the ticker; periods only run through Stream.Fire.
	Manual bool
	// ToneHz is the generated sine frequency. Zero produces silence.
	ToneHz float64
	// Amplitude of the sine wave, 0..1.
	Amplitude float64

	// DenyPermission makes Authorize fail.
	DenyPermission bool
	// NoDevice makes Resolve fail.
	NoDevice bool
	// FailStep makes Open fail at the named configuration step.
	FailStep string
	// FailCode is the status reported with FailStep.
	FailCode int
	// RenderFails reports whether the render of period n (0-based) fails.
	RenderFails func(n int) bool
}

// Backend is a capture.Backend without hardware.
type Backend struct {
	cfg Config

	mu      sync.Mutex
	live    int
	units   int
	streams []*Stream
}

// New creates a simulated backend.
func New(cfg Config) *Backend {
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = DefaultPeriodFrames
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.5
	}
	return &Backend{cfg: cfg}
}

// Name implements capture.Backend.
func (b *Backend) Name() string {
	return "simulated"
}

// Authorize implements capture.Authorizer.
func (b *Backend) Authorize(context.Context) error {
	if b.cfg.DenyPermission {
		return capture.ErrPermissionDenied
	}
	return nil
}

// Devices implements capture.Backend.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	if b.cfg.NoDevice {
		return nil, nil
	}
	return []capture.Device{{ID: DeviceID, Name: "Simulated Output", Default: true}}, nil
}

// Resolve implements capture.Backend.
func (b *Backend) Resolve(_ context.Context, sel capture.Selector) (capture.Device, error) {
	if b.cfg.NoDevice {
		return capture.Device{}, fmt.Errorf("%w: no output devices", capture.ErrDeviceUnavailable)
	}
	switch sel.Kind {
	case capture.TargetDefaultOutput, capture.TargetFilter:
		return capture.Device{ID: DeviceID, Name: "Simulated Output", Default: true}, nil
	case capture.TargetDevice:
		if sel.ID != DeviceID {
			return capture.Device{}, fmt.Errorf("%w: unknown device %q", capture.ErrDeviceUnavailable, sel.ID)
		}
		return capture.Device{ID: DeviceID, Name: "Simulated Output", Default: true}, nil
	default:
		return capture.Device{}, fmt.Errorf("%w: unsupported target %q", capture.ErrDeviceUnavailable, sel.Kind)
	}
}

var openSteps = []string{
	capture.StepInstantiate,
	capture.StepDisableOutput,
	capture.StepEnableInput,
	capture.StepBindDevice,
	capture.StepSetFormat,
	capture.StepSetCallback,
	capture.StepInitialize,
	capture.StepStart,
}

// Open implements capture.Backend.
func (b *Backend) Open(_ context.Context, _ capture.Device, opts capture.StreamOptions, cb capture.StreamCallbacks) (capture.Stream, error) {
	// The unit exists from the instantiate step on; a later failing step
	// must dispose of it before returning.
	acquired := false
	for _, step := range openSteps {
		if step == b.cfg.FailStep {
			if acquired {
				b.release()
			}
			return nil, &capture.ConfigurationError{Step: step, Code: b.cfg.FailCode}
		}
		if step == capture.StepInstantiate {
			b.mu.Lock()
			b.live++
			b.units++
			b.mu.Unlock()
			acquired = true
		}
	}

	s := &Stream{
		backend:    b,
		callbacks:  cb,
		frames:     b.cfg.PeriodFrames,
		channels:   opts.Channels,
		sampleRate: opts.SampleRate,
		stopCh:     make(chan struct{}),
	}
	s.renderFn = s.fill

	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	if !b.cfg.Manual {
		interval := time.Duration(float64(time.Second) * float64(s.frames) / float64(s.sampleRate))
		s.wg.Add(1)
		go s.run(interval)
	}
	return s, nil
}

func (b *Backend) release() {
	b.mu.Lock()
	b.live--
	b.mu.Unlock()
}

// Live returns the number of instantiated units not yet disposed of.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Units returns how many units Open has instantiated in total.
func (b *Backend) Units() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.units
}

// Last returns the most recently opened stream, or nil.
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// Stream is a running simulated stream.
type Stream struct {
	backend    *Backend
	callbacks  capture.StreamCallbacks
	frames     int
	channels   int
	sampleRate int
	renderFn   capture.RenderFunc

	mu      sync.Mutex
	stopped bool
	period  int
	phase   float64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
}

func (s *Stream) run(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Fire(s.frames)
		}
	}
}

// Fire runs one period of frames frames on the calling goroutine, as the
// platform's real-time thread would. It reports false once the stream stopped.
func (s *Stream) Fire(frames int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.callbacks.Period(frames, s.renderFn)
	s.period++
	return true
}

// Fail reports an asynchronous platform failure, as a device removal would.
func (s *Stream) Fail(err error) {
	go s.callbacks.Failed(err)
}

func (s *Stream) fill(dst []byte, frames int) error {
	if fails := s.backend.cfg.RenderFails; fails != nil && fails(s.period) {
		return capture.ErrRenderPeriodSkipped
	}

	hz := s.backend.cfg.ToneHz
	amp := s.backend.cfg.Amplitude
	step := 2 * math.Pi * hz / float64(s.sampleRate)
	for i := 0; i < frames; i++ {
		var v float32
		if hz > 0 {
			v = float32(amp * math.Sin(s.phase))
			s.phase += step
			if s.phase > 2*math.Pi {
				s.phase -= 2 * math.Pi
			}
		}
		bits := math.Float32bits(v)
		for ch := 0; ch < s.channels; ch++ {
			off := (i*s.channels + ch) * capture.BytesPerSample
			binary.LittleEndian.PutUint32(dst[off:], bits)
		}
	}
	return nil
}

// Stop implements capture.Stream. It waits for an in-flight period.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}

// Close implements capture.Stream.
func (s *Stream) Close() error {
	s.closeOnce.Do(s.backend.release)
	return nil
}
