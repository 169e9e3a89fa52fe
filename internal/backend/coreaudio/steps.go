package coreaudio

import "github.com/oszuidwest/zwfm-syscapture/internal/capture"

// openSteps maps the step numbers reported by sc_open to step names.
// The order matches the SC_STEP_* enum in coreaudio.h.
var openSteps = [...]string{
	1: capture.StepInstantiate,
	2: capture.StepDisableOutput,
	3: capture.StepEnableInput,
	4: capture.StepBindDevice,
	5: capture.StepSetFormat,
	6: capture.StepSetCallback,
	7: capture.StepInitialize,
	8: capture.StepStart,
}

func stepName(step int) string {
	if step <= 0 || step >= len(openSteps) {
		return capture.StepStart
	}
	return openSteps[step]
}

// fourCC renders an OSStatus the way Apple tools print it when it is
// a four character code.
func fourCC(status int32) string {
	b := [4]byte{byte(status >> 24), byte(status >> 16), byte(status >> 8), byte(status)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return "'" + string(b[:]) + "'"
}
