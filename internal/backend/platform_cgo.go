//go:build cgo && !darwin

package backend

import (
	"github.com/oszuidwest/zwfm-syscapture/internal/backend/miniaudio"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

const defaultBackend = "miniaudio"

func init() {
	platform["miniaudio"] = func() capture.Backend { return miniaudio.New() }
}
