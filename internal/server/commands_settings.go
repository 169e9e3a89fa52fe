package server

import (
	"cmp"
	"log/slog"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

// --- Silence detection handlers ---

// handleSilenceUpdate processes a silence/update command.
// Changes apply to the running session on its next metering update.
func (h *CommandHandler) handleSilenceUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *SilenceUpdateRequest) error {
		snap := h.cfg.Snapshot()
		sd := config.SilenceDetectionConfig{
			ThresholdDB: snap.SilenceThreshold,
			DurationMs:  snap.SilenceDurationMs,
			RecoveryMs:  snap.SilenceRecoveryMs,
		}
		if req.ThresholdDB != nil {
			sd.ThresholdDB = *req.ThresholdDB
		}
		if req.DurationMs != nil {
			sd.DurationMs = *req.DurationMs
		}
		if req.RecoveryMs != nil {
			sd.RecoveryMs = *req.RecoveryMs
		}
		return h.cfg.SetSilenceDetection(sd)
	})
}

// handleSilenceDumpUpdate processes a silence/dump-update command.
// Clip settings apply from the next capture start.
func (h *CommandHandler) handleSilenceDumpUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *SilenceDumpUpdateRequest) error {
		sd := h.cfg.Snapshot().SilenceDump
		if req.Enabled != nil {
			sd.Enabled = *req.Enabled
		}
		if req.Path != nil {
			sd.Path = *req.Path
		}
		if req.RetentionDays != nil {
			sd.RetentionDays = *req.RetentionDays
		}
		if err := h.cfg.SetSilenceDump(sd); err != nil {
			return err
		}
		h.restartIfActive("silence/dump-update")
		return nil
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// --- Recording handlers ---

// handleRecordingUpdate processes a recording/update command.
// An empty secret keeps the stored one.
func (h *CommandHandler) handleRecordingUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *RecordingUpdateRequest) error {
		current := h.cfg.Snapshot().Recording
		rc := config.RecordingConfig{
			Enabled:       req.Enabled,
			Path:          cmp.Or(req.Path, current.Path),
			StorageMode:   config.StorageMode(cmp.Or(req.StorageMode, string(config.StorageLocal))),
			RetentionDays: req.RetentionDays,
			S3: config.S3Config{
				Endpoint:        req.S3Endpoint,
				Bucket:          req.S3Bucket,
				Prefix:          req.S3Prefix,
				AccessKeyID:     req.S3AccessKeyID,
				SecretAccessKey: cmp.Or(req.S3SecretAccessKey, current.S3.SecretAccessKey),
			},
		}
		if err := h.cfg.SetRecording(rc); err != nil {
			return err
		}
		h.restartIfActive("recording/update")
		return nil
	})
}

// --- System handlers ---

// handleRegenerateAPIKey processes a system/regenerate-key command.
func (h *CommandHandler) handleRegenerateAPIKey(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}

		slog.Info("API key regenerated")

		return map[string]string{"api_key": newKey}, nil
	})
}

// --- Config handlers ---

// configView is the configuration sent to clients, with secrets removed.
type configView struct {
	Capture       config.CaptureConfig          `json:"capture"`
	Silence       config.SilenceDetectionConfig `json:"silence_detection"`
	SilenceDump   config.SilenceDumpConfig      `json:"silence_dump"`
	WebhookURL    string                        `json:"webhook_url"`
	EventLogPath  string                        `json:"event_log_path"`
	Recording     config.RecordingConfig        `json:"recording"`
	S3HasSecret   bool                          `json:"s3_has_secret"`
	StationName   string                        `json:"station_name"`
	APIKeyEnabled bool                          `json:"api_key_enabled"`
}

// handleConfigGet processes a config/get command.
func (h *CommandHandler) handleConfigGet(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	view := configView{
		Capture: snap.Capture,
		Silence: config.SilenceDetectionConfig{
			ThresholdDB: snap.SilenceThreshold,
			DurationMs:  snap.SilenceDurationMs,
			RecoveryMs:  snap.SilenceRecoveryMs,
		},
		SilenceDump:   snap.SilenceDump,
		WebhookURL:    snap.WebhookURL,
		EventLogPath:  h.eventLogPath,
		Recording:     snap.Recording,
		S3HasSecret:   snap.Recording.S3.SecretAccessKey != "",
		StationName:   snap.StationName,
		APIKeyEnabled: snap.APIKey != "",
	}
	view.Recording.S3.SecretAccessKey = ""

	trySend(send, cmd.Type, types.WSConfigResponse{Type: "config", Config: view})
}
