// Package types provides shared type definitions used across the service.
package types

import (
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
)

// EngineState represents the current state of the capture engine.
type EngineState string

const (
	// StateStopped indicates no capture is running or being retried.
	StateStopped EngineState = "stopped"
	// StateStarting indicates a session is being opened or a restart is pending.
	StateStarting EngineState = "starting"
	// StateRunning indicates a session is delivering audio.
	StateRunning EngineState = "running"
	// StateStopping indicates the engine is shutting down.
	StateStopping EngineState = "stopping"
)

const (
	// InitialRetryDelay is the starting delay between restart attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between restart attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// SuccessThreshold is the session run time after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
	// StatsLogInterval is the interval between drop statistics log lines.
	StatsLogInterval = 60000 * time.Millisecond
)

// EngineStatus contains a summary of the engine's current operational state.
type EngineStatus struct {
	State      EngineState   `json:"state"`                // Engine state
	Session    string        `json:"session,omitzero"`     // Current session ID
	Backend    string        `json:"backend"`              // Capture backend name
	Device     string        `json:"device,omitzero"`      // Captured device name
	Uptime     string        `json:"uptime,omitzero"`      // Time since the session started
	LastError  string        `json:"last_error,omitzero"`  // Most recent error
	RetryCount int           `json:"retry_count,omitzero"` // Restart attempts since the last stable run
	MaxRetries int           `json:"max_retries"`          // Restart limit
	Stats      capture.Stats `json:"stats"`                // Counters of the current session
}

// AudioDevice represents a capturable device.
type AudioDevice struct {
	ID      string `json:"id"`                // Device identifier
	Name    string `json:"name"`              // Device display name
	Default bool   `json:"default,omitempty"` // System default output
}

// DevicesFrom converts backend devices for the API.
func DevicesFrom(devices []capture.Device) []AudioDevice {
	out := make([]AudioDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, AudioDevice{ID: d.ID, Name: d.Name, Default: d.Default})
	}
	return out
}

// WSStatusResponse is sent to clients with full engine status.
type WSStatusResponse struct {
	Type       string                        `json:"type"`        // Message type identifier
	Station    string                        `json:"station"`     // Station name
	Engine     EngineStatus                  `json:"engine"`      // Engine status
	Recording  recording.Status              `json:"recording"`   // Recorder status
	Capture    config.CaptureConfig          `json:"capture"`     // Capture settings
	Silence    config.SilenceDetectionConfig `json:"silence"`     // Silence thresholds
	WebhookURL string                        `json:"webhook_url"` // Webhook URL for alerts
	Backends   []string                      `json:"backends"`    // Backends compiled into this build
	Platform   string                        `json:"platform"`    // Operating system platform
	Version    VersionInfo                   `json:"version"`     // Version information
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string            `json:"type"`   // Message type identifier
	Levels audio.AudioLevels `json:"levels"` // Current audio levels
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
