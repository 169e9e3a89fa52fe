//go:build darwin && cgo

package coreaudio

/*
#cgo LDFLAGS: -framework AudioToolbox -framework CoreAudio -framework CoreFoundation
#include <stdlib.h>
#include "coreaudio.h"
*/
import "C"

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

const nameBufferSize = 256

// streams resolves the ids native callbacks carry. Close removes a
// stream before freeing its native state.
var streams registry[*Stream]

// Backend is a capture.Backend on top of CoreAudio.
type Backend struct{}

// New creates a CoreAudio backend.
func New() *Backend {
	return &Backend{}
}

// Name implements capture.Backend.
func (b *Backend) Name() string {
	return "coreaudio"
}

// Authorize implements capture.Authorizer. Reading an output device
// through AUHAL needs no runtime grant, so it always succeeds.
func (b *Backend) Authorize(context.Context) error {
	return nil
}

func statusError(op string, status C.OSStatus) error {
	if cc := fourCC(int32(status)); cc != "" {
		return fmt.Errorf("%s: status %d %s", op, int32(status), cc)
	}
	return fmt.Errorf("%s: status %d", op, int32(status))
}

func deviceName(id C.AudioDeviceID) string {
	var buf [nameBufferSize]C.char
	if C.sc_device_name(id, &buf[0], nameBufferSize) != 0 {
		return "Device " + strconv.FormatUint(uint64(id), 10)
	}
	return C.GoString(&buf[0])
}

func defaultOutput() (C.AudioDeviceID, error) {
	var id C.AudioDeviceID
	if status := C.sc_default_output(&id); status != 0 {
		return 0, statusError("get default output device", status)
	}
	if id == 0 {
		return 0, fmt.Errorf("no default output device")
	}
	return id, nil
}

func toDevice(id, def C.AudioDeviceID) capture.Device {
	return capture.Device{
		ID:      strconv.FormatUint(uint64(id), 10),
		Name:    deviceName(id),
		Default: id == def,
		Native:  uint32(id),
	}
}

// Devices implements capture.Backend. Only devices with output channels
// are listed.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	var count C.UInt32
	if status := C.sc_device_ids(nil, &count); status != 0 {
		return nil, statusError("count devices", status)
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]C.AudioDeviceID, count)
	if status := C.sc_device_ids(&ids[0], &count); status != 0 {
		return nil, statusError("list devices", status)
	}
	def, _ := defaultOutput()

	devices := make([]capture.Device, 0, count)
	for _, id := range ids[:count] {
		if C.sc_device_output_channels(id) <= 0 {
			continue
		}
		devices = append(devices, toDevice(id, def))
	}
	return devices, nil
}

// Resolve implements capture.Backend.
func (b *Backend) Resolve(ctx context.Context, sel capture.Selector) (capture.Device, error) {
	switch sel.Kind {
	case capture.TargetDefaultOutput:
		id, err := defaultOutput()
		if err != nil {
			return capture.Device{}, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
		}
		return toDevice(id, id), nil
	case capture.TargetDevice:
		devices, err := b.Devices(ctx)
		if err != nil {
			return capture.Device{}, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
		}
		for _, d := range devices {
			if d.ID == sel.ID || d.Name == sel.ID {
				return d, nil
			}
		}
		return capture.Device{}, fmt.Errorf("%w: no output device %q", capture.ErrDeviceUnavailable, sel.ID)
	default:
		return capture.Device{}, fmt.Errorf("%w: %s targets need ScreenCaptureKit", capture.ErrDeviceUnavailable, sel.Kind)
	}
}

// Open implements capture.Backend.
func (b *Backend) Open(_ context.Context, dev capture.Device, opts capture.StreamOptions, cb capture.StreamCallbacks) (capture.Stream, error) {
	id, ok := dev.Native.(uint32)
	if !ok {
		return nil, &capture.ConfigurationError{Step: capture.StepBindDevice, Err: fmt.Errorf("device %q was not resolved by coreaudio", dev.ID)}
	}

	s := &Stream{
		callbacks: cb,
		channels:  opts.Channels,
		native:    (*C.sc_stream)(C.calloc(1, C.sizeof_sc_stream)),
	}
	s.renderFn = s.render
	s.id = streams.add(s)

	var step C.int
	status := C.sc_open(s.native, C.AudioDeviceID(id), C.Float64(opts.SampleRate), C.UInt32(opts.Channels), C.uintptr_t(s.id), &step)
	if status != 0 {
		streams.remove(s.id)
		C.free(unsafe.Pointer(s.native))
		return nil, &capture.ConfigurationError{Step: stepName(int(step)), Code: int(status)}
	}
	return s, nil
}

// Stream is a running AUHAL unit.
type Stream struct {
	callbacks capture.StreamCallbacks
	channels  int
	renderFn  capture.RenderFunc

	native   *C.sc_stream
	id       uintptr
	stopping atomic.Bool

	stopOnce  sync.Once
	closeOnce sync.Once
	stopErr   error
}

func (s *Stream) render(dst []byte, frames int) error {
	if len(dst) == 0 {
		return nil
	}
	if C.sc_render(s.native, unsafe.Pointer(&dst[0]), C.UInt32(len(dst)), C.UInt32(frames), C.UInt32(s.channels)) != 0 {
		return capture.ErrRenderPeriodSkipped
	}
	return nil
}

// Stop implements capture.Stream. AudioOutputUnitStop returns after the
// render callback in progress finished.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if status := C.sc_stop(s.native); status != 0 {
			s.stopErr = statusError("stop audio unit", status)
		}
	})
	return s.stopErr
}

// Close implements capture.Stream. The id is removed first so device
// notifications still in flight on the HAL thread find nothing; the
// native listeners never dereference the stream itself.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		streams.remove(s.id)
		C.sc_close(s.native)
		C.free(unsafe.Pointer(s.native))
		s.native = nil
	})
	return nil
}

//export goCaptureRender
func goCaptureRender(id C.uintptr_t, frames C.UInt32) {
	s, ok := streams.lookup(uintptr(id))
	if !ok {
		return
	}
	s.callbacks.Period(int(frames), s.renderFn)
}

//export goCaptureStreamEvent
func goCaptureStreamEvent(id C.uintptr_t, event C.int, status C.OSStatus) {
	s, ok := streams.lookup(uintptr(id))
	if !ok || s.stopping.Load() {
		return
	}
	desc := "audio device stopped"
	if event == C.SC_EVENT_DEVICE_DEAD {
		desc = "audio device disconnected"
	}
	s.callbacks.Failed(&capture.StreamError{Description: desc, Code: int(status)})
}
