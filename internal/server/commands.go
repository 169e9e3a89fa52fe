package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/engine"
)

// MaxEventEntries is the number of event log entries returned when no limit is given.
const MaxEventEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	engine       *engine.Engine
	eventLogPath string
}

// NewCommandHandler creates a new command handler. eventLogPath is the
// event log read by events/get.
func NewCommandHandler(cfg *config.Config, eng *engine.Engine, eventLogPath string) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		engine:       eng,
		eventLogPath: eventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "capture/start", "silence/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "capture":
		h.handleCapture(action, cmd, send)
	case "silence":
		h.handleSilence(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "recording":
		h.handleRecording(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "config":
		h.handleConfig(action, cmd, send)
	case "system":
		h.handleSystem(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleCapture routes capture/* commands
func (h *CommandHandler) handleCapture(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleCaptureStart(cmd, send)
	case "stop":
		h.handleCaptureStop(cmd, send)
	case "update":
		h.handleCaptureUpdate(cmd, send)
	default:
		slog.Warn("unknown capture action", "action", action)
	}
}

// handleSilence routes silence/* commands
func (h *CommandHandler) handleSilence(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSilenceUpdate(cmd, send)
	case "dump-update":
		h.handleSilenceDumpUpdate(cmd, send)
	default:
		slog.Warn("unknown silence action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleWebhookTest(cmd, send)
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleRecording routes recording/* commands
func (h *CommandHandler) handleRecording(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleRecordingUpdate(cmd, send)
	case "test-s3":
		h.handleTestS3(cmd, send)
	default:
		slog.Warn("unknown recording action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleEventsGet(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(cmd, send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleSystem routes system/* commands
func (h *CommandHandler) handleSystem(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "regenerate-key":
		h.handleRegenerateAPIKey(cmd, send)
	default:
		slog.Warn("unknown system action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
