package capture

import "context"

// Device is a capture target resolved by a Backend.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
	Input   bool   `json:"input"`

	// Native is the backend's own handle for the device.
	Native any `json:"-"`
}

// StreamCallbacks are handed to a backend when it opens a stream.
type StreamCallbacks struct {
	// Period is called on the real-time thread once per hardware period.
	Period func(frames int, render RenderFunc)

	// Failed is called from any thread when the platform halts a running
	// stream on its own. It never blocks.
	Failed func(err error)
}

// Backend resolves capture targets and opens platform streams.
type Backend interface {
	// Name identifies the backend in logs and the API.
	Name() string

	// Devices lists the devices the backend can capture from.
	Devices(ctx context.Context) ([]Device, error)

	// Resolve picks the device for sel.
	Resolve(ctx context.Context, sel Selector) (Device, error)

	// Open configures and starts a stream on dev. On failure nothing stays
	// allocated and the error is a *ConfigurationError.
	Open(ctx context.Context, dev Device, opts StreamOptions, cb StreamCallbacks) (Stream, error)
}

// Authorizer is implemented by backends that need capture permission.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// Stream is a started platform stream.
type Stream interface {
	// Stop halts the hardware. When it returns no further periods run.
	Stop() error

	// Close releases the platform resources. It is safe to call more than once.
	Close() error
}
