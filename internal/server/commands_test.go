package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/backend/simulated"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/engine"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

func newTestHandler(t *testing.T, eventLogPath string) (*CommandHandler, *config.Config, *engine.Engine) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	eng := engine.New(cfg, simulated.New(simulated.Config{Manual: true}), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("engine Stop() error = %v", err)
		}
	})
	return NewCommandHandler(cfg, eng, eventLogPath), cfg, eng
}

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal command data: %v", err)
		}
		cmd.Data = raw
	}
	return cmd
}

func receive[T any](t *testing.T, send <-chan any) T {
	t.Helper()
	select {
	case msg := <-send:
		v, ok := msg.(T)
		if !ok {
			t.Fatalf("got message %T, want %T", msg, v)
		}
		return v
	case <-time.After(5 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func TestHandleTriggersStatusUpdate(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	send := make(chan any, 4)

	for _, typ := range []string{"status/get", "unknown/thing", "capture/bogus"} {
		triggered := false
		h.Handle(WSCommand{Type: typ}, send, func() { triggered = true })
		if !triggered {
			t.Errorf("Handle(%q) did not trigger a status update", typ)
		}
	}
	if len(send) != 0 {
		t.Errorf("got %d responses for commands without a reply", len(send))
	}
}

func TestCaptureStartTwice(t *testing.T) {
	h, _, eng := newTestHandler(t, "")
	send := make(chan any, 4)

	h.Handle(command(t, "capture/start", nil), send, func() {})
	if res := receive[types.WSCommandResult](t, send); !res.Success {
		t.Fatalf("first capture/start failed: %s", res.Error)
	}

	h.Handle(command(t, "capture/start", nil), send, func() {})
	res := receive[types.WSCommandResult](t, send)
	if res.Success {
		t.Error("second capture/start succeeded, want error")
	}
	if res.Type != "capture/start_result" {
		t.Errorf("Type = %q", res.Type)
	}

	h.Handle(command(t, "capture/stop", nil), send, func() {})
	if res := receive[types.WSCommandResult](t, send); !res.Success {
		t.Fatalf("capture/stop failed: %s", res.Error)
	}
	if got := eng.State(); got != types.StateStopped {
		t.Errorf("engine state = %q after capture/stop", got)
	}
}

func TestSilenceUpdate(t *testing.T) {
	h, cfg, _ := newTestHandler(t, "")
	send := make(chan any, 4)

	h.Handle(command(t, "silence/update", map[string]any{"threshold_db": -30.0}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); !res.Success {
		t.Fatalf("silence/update failed: %s", res.Error)
	}
	snap := cfg.Snapshot()
	if snap.SilenceThreshold != -30 {
		t.Errorf("SilenceThreshold = %v, want -30", snap.SilenceThreshold)
	}
	if snap.SilenceDurationMs != config.DefaultSilenceDurationMs {
		t.Errorf("SilenceDurationMs = %d, want default kept", snap.SilenceDurationMs)
	}

	h.Handle(command(t, "silence/update", map[string]any{"threshold_db": -90.0}), send, func() {})
	res := receive[types.WSCommandResult](t, send)
	if res.Success {
		t.Fatal("silence/update with -90 dB succeeded")
	}
	if res.Fields == nil || len(res.Fields.Errors) != 1 || res.Fields.Errors[0].Field != "threshold_db" {
		t.Errorf("Fields = %+v, want one threshold_db error", res.Fields)
	}
	if got := cfg.Snapshot().SilenceThreshold; got != -30 {
		t.Errorf("SilenceThreshold = %v after rejected update", got)
	}
}

func TestSilenceDumpUpdate(t *testing.T) {
	h, cfg, _ := newTestHandler(t, "")
	send := make(chan any, 4)
	dir := t.TempDir()

	h.Handle(command(t, "silence/dump-update", map[string]any{"enabled": true, "path": dir}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); !res.Success {
		t.Fatalf("silence/dump-update failed: %s", res.Error)
	}
	sd := cfg.Snapshot().SilenceDump
	if !sd.Enabled || sd.Path != dir {
		t.Errorf("SilenceDump = %+v, want enabled at %s", sd, dir)
	}
	if sd.RetentionDays != config.DefaultDumpRetentionDays {
		t.Errorf("RetentionDays = %d, want default kept", sd.RetentionDays)
	}

	h.Handle(command(t, "silence/dump-update", map[string]any{"retention_days": 400}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); res.Success {
		t.Error("silence/dump-update with 400 days succeeded")
	}
}

func TestCaptureUpdateKeepsOmittedFields(t *testing.T) {
	h, cfg, _ := newTestHandler(t, "")
	send := make(chan any, 4)

	h.Handle(command(t, "capture/update", map[string]any{"queue_capacity": 32}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); !res.Success {
		t.Fatalf("capture/update failed: %s", res.Error)
	}
	cc := cfg.Snapshot().Capture
	if cc.QueueCapacity != 32 {
		t.Errorf("QueueCapacity = %d, want 32", cc.QueueCapacity)
	}
	if cc.MaxRetries != config.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want default kept", cc.MaxRetries)
	}

	h.Handle(command(t, "capture/update", map[string]any{"target_kind": "device"}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); res.Success {
		t.Error("capture/update to device target without target_id succeeded")
	}
}

func TestConfigGetRedactsSecret(t *testing.T) {
	h, cfg, _ := newTestHandler(t, "")
	dir := t.TempDir()
	if err := cfg.SetRecording(config.RecordingConfig{
		Enabled:     true,
		Path:        dir,
		StorageMode: config.StorageBoth,
		S3:          config.S3Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"},
	}); err != nil {
		t.Fatalf("SetRecording() error = %v", err)
	}
	send := make(chan any, 4)

	h.Handle(command(t, "config/get", nil), send, func() {})
	res := receive[types.WSConfigResponse](t, send)
	view, ok := res.Config.(configView)
	if !ok {
		t.Fatalf("Config is %T", res.Config)
	}
	if view.Recording.S3.SecretAccessKey != "" {
		t.Error("config/get leaked the S3 secret")
	}
	if !view.S3HasSecret {
		t.Error("S3HasSecret = false")
	}
	if got := cfg.Snapshot().Recording.S3.SecretAccessKey; got != "secret" {
		t.Errorf("stored secret = %q after config/get", got)
	}
}

func TestEventsGet(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(logPath)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	for range 3 {
		if err := logger.LogCapture(eventlog.CaptureStarted, "s1", "capture started", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := logger.LogSilence(eventlog.SilenceStart, &eventlog.SilenceDetails{ThresholdDB: -40}); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	h, _, _ := newTestHandler(t, logPath)
	send := make(chan any, 4)

	h.Handle(command(t, "events/get", map[string]any{"filter": "capture", "limit": 2}), send, func() {})
	res := receive[types.WSEventsResult](t, send)
	if !res.Success {
		t.Fatalf("events/get failed: %s", res.Error)
	}
	if len(res.Events) != 2 || !res.HasMore {
		t.Errorf("got %d events, has_more=%v; want 2, true", len(res.Events), res.HasMore)
	}

	h.Handle(command(t, "events/get", map[string]any{"filter": "bogus"}), send, func() {})
	if res := receive[types.WSCommandResult](t, send); res.Success {
		t.Error("events/get with unknown filter succeeded")
	}
}

func TestWebhookTestNotConfigured(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	send := make(chan any, 4)

	h.Handle(command(t, "notifications/webhook/test", nil), send, func() {})
	res := receive[types.WSTestResult](t, send)
	if res.Success || res.TestType != "webhook" {
		t.Errorf("result = %+v, want failed webhook test", res)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "example.com", true},
		{"same host", "http://example.com", "example.com:8080", true},
		{"localhost", "http://localhost:3000", "example.com", true},
		{"private ip", "http://192.168.1.10", "example.com", true},
		{"foreign", "https://evil.example.org", "example.com", false},
		{"invalid", "://bad", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
