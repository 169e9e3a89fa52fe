package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
)

type hookServer struct {
	*httptest.Server
	mu       sync.Mutex
	payloads []WebhookPayload
}

func newHookServer(t *testing.T, status int) *hookServer {
	t.Helper()
	h := &hookServer{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		h.mu.Lock()
		h.payloads = append(h.payloads, p)
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hookServer) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, p := range h.payloads {
		out = append(out, p.Event)
	}
	return out
}

func newTestConfig(t *testing.T, webhook string) *config.Config {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.SetWebhookURL(webhook); err != nil {
		t.Fatalf("SetWebhookURL() error = %v", err)
	}
	return cfg
}

func TestNotifierSilence(t *testing.T) {
	hook := newHookServer(t, http.StatusOK)
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer events.Close()

	n := NewNotifier(newTestConfig(t, hook.URL), events)

	n.HandleSilence(audio.SilenceEvent{InSilence: true})
	n.HandleSilence(audio.SilenceEvent{JustEntered: true, InSilence: true, CurrentLevelL: -55, CurrentLevelR: -54})
	n.Wait()
	n.HandleSilence(audio.SilenceEvent{JustEntered: true, InSilence: true})
	n.Wait()
	n.HandleSilence(audio.SilenceEvent{JustRecovered: true, TotalDurationMs: 20000})
	n.Wait()

	got := hook.events()
	want := []string{EventSilenceDetected, EventSilenceRecovered}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("webhook events = %v, want %v", got, want)
	}

	logged, _, err := eventlog.ReadLast(logPath, 10, 0, eventlog.FilterSilence)
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 3 {
		t.Errorf("logged %d silence events, want 3", len(logged))
	}
}

func TestNotifierRecoveryWithoutStart(t *testing.T) {
	hook := newHookServer(t, http.StatusOK)
	n := NewNotifier(newTestConfig(t, hook.URL), nil)

	n.HandleSilence(audio.SilenceEvent{JustRecovered: true})
	n.Wait()

	if got := hook.events(); len(got) != 0 {
		t.Errorf("webhook events = %v, want none", got)
	}
}

func TestNotifierCaptureFailed(t *testing.T) {
	hook := newHookServer(t, http.StatusOK)
	n := NewNotifier(newTestConfig(t, hook.URL), nil)

	n.CaptureFailed("abc", errors.New("device disconnected"), 2, false)
	n.CaptureFailed("abc", errors.New("device disconnected"), 10, true)
	n.Wait()

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if len(hook.payloads) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(hook.payloads))
	}
	seen := map[string]bool{}
	for _, p := range hook.payloads {
		seen[p.Event] = true
		if p.SessionID != "abc" || p.Error != "device disconnected" {
			t.Errorf("payload = %+v", p)
		}
	}
	if !seen[EventCaptureFailed] || !seen[EventCaptureGaveUp] {
		t.Errorf("events = %v", seen)
	}
}

func TestSendTestWebhook(t *testing.T) {
	if err := SendTestWebhook(context.Background(), "", "x"); !errors.Is(err, ErrWebhookNotConfigured) {
		t.Errorf("SendTestWebhook(\"\") error = %v", err)
	}

	failing := newHookServer(t, http.StatusInternalServerError)
	if err := SendTestWebhook(context.Background(), failing.URL, "x"); err == nil {
		t.Error("SendTestWebhook() ignored a 500 response")
	}

	ok := newHookServer(t, http.StatusNoContent)
	if err := SendTestWebhook(context.Background(), ok.URL, "Studio"); err != nil {
		t.Errorf("SendTestWebhook() error = %v", err)
	}
}
