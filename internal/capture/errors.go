package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for capture operations.
var (
	// ErrPermissionDenied is returned when the platform refused capture authorization.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceUnavailable is returned when no capture target could be resolved.
	ErrDeviceUnavailable = errors.New("no capture device available")

	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("stream configuration failed")

	// ErrAlreadyCapturing is returned by Start on a session that is not idle.
	ErrAlreadyCapturing = errors.New("already capturing")

	// ErrRenderPeriodSkipped is returned by a RenderFunc when one period could not be rendered.
	ErrRenderPeriodSkipped = errors.New("render period skipped")

	// ErrStreamStopped is reported when the platform halted a running stream on its own.
	ErrStreamStopped = errors.New("stream stopped by the system")

	// ErrDispatcherClosed is returned when a lifecycle event is sent after the terminal event.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Stream configuration steps, in the order a backend performs them.
const (
	StepOptions       = "validate-options"
	StepInstantiate   = "instantiate"
	StepDisableOutput = "disable-output-io"
	StepEnableInput   = "enable-input-io"
	StepBindDevice    = "bind-device"
	StepSetFormat     = "set-format"
	StepSetCallback   = "set-callback"
	StepInitialize    = "initialize"
	StepStart         = "start"
)

// ConfigurationError reports the first stream setup step that failed.
type ConfigurationError struct {
	Step string // Step that failed (one of the Step* constants)
	Code int    // Platform status code, 0 when the platform has none
	Err  error  // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("stream configuration failed at %s", e.Step)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both ErrConfiguration and the cause.
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// StreamError carries a platform failure reported after the stream was running.
type StreamError struct {
	Description string
	Code        int
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (status %d)", e.Description, e.Code)
	}
	return e.Description
}

// Unwrap returns ErrStreamStopped.
func (e *StreamError) Unwrap() error {
	return ErrStreamStopped
}
