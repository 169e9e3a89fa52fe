//go:build cgo

package miniaudio

import (
	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// WASAPI captures a render endpoint in loopback mode.
const (
	deviceType = malgo.Loopback
	listType   = malgo.Playback
)

// defaultTarget leaves the device unset so loopback follows the default
// render endpoint.
func defaultTarget(devices []capture.Device) (capture.Device, bool) {
	for _, d := range devices {
		if d.Default {
			d.Native = nil
			return d, true
		}
	}
	return capture.Device{ID: "default", Name: "Default Output", Default: true}, true
}
