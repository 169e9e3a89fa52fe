//go:build cgo && !windows

package miniaudio

import (
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// Without loopback support the system mix is read from a monitor source.
const (
	deviceType = malgo.Capture
	listType   = malgo.Capture
)

const monitorPrefix = "Monitor of"

// defaultTarget picks a monitor of the output devices, preferring one
// marked default.
func defaultTarget(devices []capture.Device) (capture.Device, bool) {
	var found *capture.Device
	for i := range devices {
		if !strings.HasPrefix(devices[i].Name, monitorPrefix) {
			continue
		}
		if devices[i].Default {
			return devices[i], true
		}
		if found == nil {
			found = &devices[i]
		}
	}
	if found == nil {
		return capture.Device{}, false
	}
	return *found, true
}
