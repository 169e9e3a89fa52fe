package types

import "github.com/oszuidwest/zwfm-syscapture/internal/eventlog"

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`             // "<command>_result"
	Success bool             `json:"success"`          // true if command succeeded
	Error   string           `json:"error,omitempty"`  // Error message if failed
	Fields  *ValidationError `json:"fields,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`   // Optional response data
}

// WSEventsResult is sent to clients with event log entries.
type WSEventsResult struct {
	Type    string           `json:"type"`            // "events"
	Success bool             `json:"success"`         // Operation succeeded
	Error   string           `json:"error,omitempty"` // Error message if failed
	Events  []eventlog.Event `json:"events,omitempty"`
	HasMore bool             `json:"has_more"`
}
