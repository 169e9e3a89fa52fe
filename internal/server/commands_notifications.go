package server

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/notify"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

// testTimeout bounds connection tests started from the interface.
const testTimeout = 30 * time.Second

// handleWebhookTest processes a notifications/webhook/test command.
func (h *CommandHandler) handleWebhookTest(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	h.runTest(send, "webhook", func(ctx context.Context) error {
		return notify.SendTestWebhook(ctx, snap.WebhookURL, snap.StationName)
	})
}

// handleTestS3 processes a recording/test-s3 command.
func (h *CommandHandler) handleTestS3(cmd WSCommand, send chan<- any) {
	var req S3TestRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	s3cfg := &config.S3Config{
		Endpoint:        req.Endpoint,
		Bucket:          req.Bucket,
		Prefix:          req.Prefix,
		AccessKeyID:     req.AccessKey,
		SecretAccessKey: req.SecretKey,
	}
	h.runTest(send, "s3", func(ctx context.Context) error {
		return recording.TestS3Connection(ctx, s3cfg)
	})
}

// runTest executes a connection test in the background and sends a test_result.
func (h *CommandHandler) runTest(send chan<- any, testType string, test func(context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}
		if err := test(ctx); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}

		SendData(send, result)
	}()
}

// handleEventsGet processes an events/get command.
func (h *CommandHandler) handleEventsGet(cmd WSCommand, send chan<- any) {
	var req EventsGetRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in events handler", "panic", r)
			}
		}()

		result := types.WSEventsResult{Type: "events", Success: true}
		if h.eventLogPath == "" {
			result.Success = false
			result.Error = "event log is not configured"
		} else {
			events, hasMore, err := eventlog.ReadLast(h.eventLogPath, cmp.Or(req.Limit, MaxEventEntries), req.Offset, eventlog.TypeFilter(req.Filter))
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Events = events
				result.HasMore = hasMore
			}
		}

		SendData(send, result)
	}()
}
