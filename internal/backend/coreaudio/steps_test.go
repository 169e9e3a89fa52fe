package coreaudio

import (
	"testing"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

func TestStepName(t *testing.T) {
	tests := []struct {
		step int
		want string
	}{
		{1, capture.StepInstantiate},
		{4, capture.StepBindDevice},
		{5, capture.StepSetFormat},
		{8, capture.StepStart},
		{0, capture.StepStart},
		{42, capture.StepStart},
	}
	for _, tt := range tests {
		if got := stepName(tt.step); got != tt.want {
			t.Errorf("stepName(%d) = %q, want %q", tt.step, got, tt.want)
		}
	}
}

func TestFourCC(t *testing.T) {
	// kAudioUnitErr_FormatNotSupported is -10868, not a four character code.
	if got := fourCC(-10868); got != "" {
		t.Errorf("fourCC(-10868) = %q, want empty", got)
	}
	// kAudioHardwareBadDeviceError is '!dev'.
	if got := fourCC(0x21646576); got != "'!dev'" {
		t.Errorf("fourCC('!dev') = %q", got)
	}
}
