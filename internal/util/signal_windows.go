//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that end a capture run.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
