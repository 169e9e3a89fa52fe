//go:build cgo

package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// Backend is a capture.Backend on top of miniaudio.
type Backend struct{}

// New creates a miniaudio backend.
func New() *Backend {
	return &Backend{}
}

// Name implements capture.Backend.
func (b *Backend) Name() string {
	return "miniaudio"
}

func initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// Devices implements capture.Backend.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(listType)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	devices := make([]capture.Device, 0, len(infos))
	for i := range infos {
		id := infos[i].ID
		devices = append(devices, capture.Device{
			ID:      id.String(),
			Name:    infos[i].Name(),
			Default: infos[i].IsDefault != 0,
			Input:   listType == malgo.Capture,
			Native:  &id,
		})
	}
	return devices, nil
}

// Resolve implements capture.Backend.
func (b *Backend) Resolve(ctx context.Context, sel capture.Selector) (capture.Device, error) {
	if sel.Kind == capture.TargetFilter {
		return capture.Device{}, fmt.Errorf("%w: content filters are not supported by miniaudio", capture.ErrDeviceUnavailable)
	}

	devices, err := b.Devices(ctx)
	if err != nil {
		return capture.Device{}, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
	}

	if sel.Kind == capture.TargetDevice {
		for _, d := range devices {
			if d.ID == sel.ID || d.Name == sel.ID {
				return d, nil
			}
		}
		return capture.Device{}, fmt.Errorf("%w: no device %q", capture.ErrDeviceUnavailable, sel.ID)
	}

	if d, ok := defaultTarget(devices); ok {
		return d, nil
	}
	return capture.Device{}, fmt.Errorf("%w: no system output source found", capture.ErrDeviceUnavailable)
}

// Open implements capture.Backend.
func (b *Backend) Open(_ context.Context, dev capture.Device, opts capture.StreamOptions, cb capture.StreamCallbacks) (capture.Stream, error) {
	if opts.ExcludeSelf {
		slog.Debug("miniaudio cannot exclude its own process, capturing everything")
	}

	mctx, err := initContext()
	if err != nil {
		return nil, &capture.ConfigurationError{Step: capture.StepInstantiate, Err: err}
	}

	s := &Stream{
		mctx:      mctx,
		callbacks: cb,
		frameSize: opts.BytesPerFrame(),
	}
	s.renderFn = s.render

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(opts.Channels)
	cfg.SampleRate = uint32(opts.SampleRate)
	if id, ok := dev.Native.(*malgo.DeviceID); ok && id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		freeContext(mctx)
		return nil, &capture.ConfigurationError{Step: capture.StepInitialize, Err: err}
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, &capture.ConfigurationError{Step: capture.StepStart, Err: err}
	}
	return s, nil
}

// Stream is a running miniaudio capture device.
type Stream struct {
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	callbacks capture.StreamCallbacks
	frameSize int
	renderFn  capture.RenderFunc

	// input is the buffer of the period in progress. Only touched on the
	// device thread.
	input []byte

	stopping  atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopErr   error
}

func (s *Stream) onData(_, input []byte, frameCount uint32) {
	s.input = input
	s.callbacks.Period(int(frameCount), s.renderFn)
	s.input = nil
}

func (s *Stream) render(dst []byte, frames int) error {
	if len(s.input) < frames*s.frameSize {
		return capture.ErrRenderPeriodSkipped
	}
	copy(dst, s.input)
	return nil
}

func (s *Stream) onStop() {
	if s.stopping.Load() {
		return
	}
	s.callbacks.Failed(&capture.StreamError{Description: "miniaudio device stopped"})
}

// Stop implements capture.Stream.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if err := s.device.Stop(); err != nil {
			s.stopErr = fmt.Errorf("stop device: %w", err)
		}
	})
	return s.stopErr
}

// Close implements capture.Stream.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		s.device.Uninit()
		freeContext(s.mctx)
	})
	return nil
}
