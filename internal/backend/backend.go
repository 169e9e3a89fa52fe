// Package backend selects the capture backend for the running platform.
package backend

import (
	"fmt"
	"slices"

	"github.com/oszuidwest/zwfm-syscapture/internal/backend/simulated"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
)

// Auto selects the platform default backend.
const Auto = "auto"

// Simulated is the name of the hardware-free backend.
const Simulated = "simulated"

// platform holds the constructors available in this build, keyed by name.
var platform = map[string]func() capture.Backend{}

// Available returns the backend names usable in this build.
func Available() []string {
	names := []string{Simulated}
	for name := range platform {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default returns the name Auto resolves to.
func Default() string {
	if defaultBackend == "" {
		return Simulated
	}
	return defaultBackend
}

// New returns the backend called name. sim configures the simulated backend.
func New(name string, sim simulated.Config) (capture.Backend, error) {
	if name == "" || name == Auto {
		name = Default()
	}
	if name == Simulated {
		return simulated.New(sim), nil
	}
	ctor, ok := platform[name]
	if !ok {
		return nil, fmt.Errorf("backend %q is not available on this platform (have %v)", name, Available())
	}
	return ctor(), nil
}
