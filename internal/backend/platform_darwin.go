//go:build darwin && cgo

package backend

import (
	"github.com/oszuidwest/zwfm-syscapture/internal/backend/coreaudio"
	"github.com/oszuidwest/zwfm-syscapture/internal/backend/miniaudio"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

const defaultBackend = "coreaudio"

func init() {
	platform["coreaudio"] = func() capture.Backend { return coreaudio.New() }
	platform["miniaudio"] = func() capture.Backend { return miniaudio.New() }
}
