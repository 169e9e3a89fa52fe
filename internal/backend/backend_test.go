package backend

import (
	"slices"
	"testing"

	"github.com/oszuidwest/zwfm-syscapture/internal/backend/simulated"
)

func TestNew(t *testing.T) {
	b, err := New(Simulated, simulated.Config{})
	if err != nil {
		t.Fatalf("New(simulated) error = %v", err)
	}
	if b.Name() != Simulated {
		t.Errorf("Name() = %q", b.Name())
	}

	if _, err := New("pipewire", simulated.Config{}); err == nil {
		t.Error("New(pipewire) succeeded")
	}
}

func TestAvailable(t *testing.T) {
	names := Available()
	if !slices.Contains(names, Simulated) {
		t.Errorf("Available() = %v, missing simulated", names)
	}
	if !slices.Contains(names, Default()) {
		t.Errorf("Default() %q not in Available() %v", Default(), names)
	}
}
