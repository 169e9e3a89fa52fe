package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

// stopTimeout bounds how long capture/stop waits for the session teardown.
const stopTimeout = 10 * time.Second

// handleCaptureStart processes a capture/start command.
func (h *CommandHandler) handleCaptureStart(cmd WSCommand, send chan<- any) {
	if err := h.engine.Start(); err != nil {
		SendError(send, cmd.Type, err)
		return
	}
	slog.Info("capture/start: capture started")
	SendSuccess(send, cmd.Type, nil)
}

// handleCaptureStop processes a capture/stop command.
func (h *CommandHandler) handleCaptureStop(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := h.engine.Stop(ctx); err != nil {
			return nil, err
		}
		slog.Info("capture/stop: capture stopped")
		return nil, nil
	})
}

// handleCaptureUpdate processes a capture/update command.
func (h *CommandHandler) handleCaptureUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *CaptureUpdateRequest) error {
		cc := h.cfg.Snapshot().Capture
		backendChanged := req.Backend != nil && *req.Backend != cc.Backend

		applyCaptureUpdate(&cc, req)
		if err := h.cfg.SetCapture(cc); err != nil {
			return err
		}
		if backendChanged {
			slog.Info("capture/update: backend change takes effect after a service restart", "backend", cc.Backend)
		}
		h.restartIfActive("capture/update")
		return nil
	})
}

// applyCaptureUpdate copies the fields present in req to cc.
func applyCaptureUpdate(cc *config.CaptureConfig, req *CaptureUpdateRequest) {
	if req.Backend != nil {
		cc.Backend = *req.Backend
	}
	if req.TargetKind != nil {
		cc.TargetKind = *req.TargetKind
	}
	if req.TargetID != nil {
		cc.TargetID = *req.TargetID
	}
	if req.ExcludeSelf != nil {
		cc.ExcludeSelf = *req.ExcludeSelf
	}
	if req.QueueCapacity != nil {
		cc.QueueCapacity = *req.QueueCapacity
	}
	if req.RingSize != nil {
		cc.RingSize = *req.RingSize
	}
	if req.MaxRenderFailures != nil {
		cc.MaxRenderFailures = *req.MaxRenderFailures
	}
	if req.AutoStart != nil {
		cc.AutoStart = *req.AutoStart
	}
	if req.MaxRetries != nil {
		cc.MaxRetries = *req.MaxRetries
	}
}

// restartIfActive restarts capture in the background so new settings apply.
func (h *CommandHandler) restartIfActive(command string) {
	if h.engine.State() == types.StateStopped {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := h.engine.Restart(ctx); err != nil {
			slog.Error("capture restart failed", "command", command, "error", err)
		}
	}()
}
