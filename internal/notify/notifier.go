// Package notify delivers webhook notifications for silence and capture
// failures and records them in the event log.
package notify

import (
	"context"
	"sync"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// Notifier turns silence transitions and capture failures into webhook
// calls and event log entries. It is safe for concurrent use.
type Notifier struct {
	cfg    *config.Config
	events *eventlog.Logger

	mu          sync.Mutex
	silenceSent bool
	wg          sync.WaitGroup
}

// NewNotifier creates a notifier. events may be nil.
func NewNotifier(cfg *config.Config, events *eventlog.Logger) *Notifier {
	return &Notifier{cfg: cfg, events: events}
}

// HandleSilence reacts to the transitions in a silence event.
func (n *Notifier) HandleSilence(ev audio.SilenceEvent) {
	if !ev.JustEntered && !ev.JustRecovered {
		return
	}
	cfg := n.cfg.Snapshot()

	if ev.JustEntered {
		n.logEvent(eventlog.SilenceStart, &eventlog.SilenceDetails{
			LevelLeftDB:  ev.CurrentLevelL,
			LevelRightDB: ev.CurrentLevelR,
			ThresholdDB:  cfg.SilenceThreshold,
		})

		n.mu.Lock()
		send := !n.silenceSent && cfg.HasWebhook()
		n.silenceSent = n.silenceSent || send
		n.mu.Unlock()

		if send {
			n.send("Silence webhook", cfg.WebhookURL, &WebhookPayload{
				Event:        EventSilenceDetected,
				Station:      cfg.StationName,
				LevelLeftDB:  ev.CurrentLevelL,
				LevelRightDB: ev.CurrentLevelR,
				Threshold:    cfg.SilenceThreshold,
				Timestamp:    timestampUTC(),
			})
		}
	}

	if ev.JustRecovered {
		n.logEvent(eventlog.SilenceEnd, &eventlog.SilenceDetails{
			LevelLeftDB:  ev.CurrentLevelL,
			LevelRightDB: ev.CurrentLevelR,
			ThresholdDB:  cfg.SilenceThreshold,
			DurationMs:   ev.TotalDurationMs,
		})

		// Recovery is only reported when the start was.
		n.mu.Lock()
		send := n.silenceSent
		n.silenceSent = false
		n.mu.Unlock()

		if send {
			n.send("Recovery webhook", cfg.WebhookURL, &WebhookPayload{
				Event:             EventSilenceRecovered,
				Station:           cfg.StationName,
				SilenceDurationMs: ev.TotalDurationMs,
				LevelLeftDB:       ev.CurrentLevelL,
				LevelRightDB:      ev.CurrentLevelR,
				Threshold:         cfg.SilenceThreshold,
				Message:           "Silence lasted " + util.FormatDuration(ev.TotalDurationMs),
				Timestamp:         timestampUTC(),
			})
		}
	}
}

// CaptureFailed reports a capture session that stopped with an error.
// gaveUp marks the final failure after which no restart follows.
func (n *Notifier) CaptureFailed(sessionID string, err error, retry int, gaveUp bool) {
	cfg := n.cfg.Snapshot()
	if !cfg.HasWebhook() {
		return
	}
	event := EventCaptureFailed
	if gaveUp {
		event = EventCaptureGaveUp
	}
	n.send("Capture webhook", cfg.WebhookURL, &WebhookPayload{
		Event:      event,
		Station:    cfg.StationName,
		SessionID:  sessionID,
		Error:      util.ErrorText(err),
		RetryCount: retry,
		Timestamp:  timestampUTC(),
	})
}

// Reset clears the silence notification state.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.silenceSent = false
	n.mu.Unlock()
}

// Wait blocks until in-flight notifications finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(kind, url string, payload *WebhookPayload) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		util.LogNotifyResult(func() error { return sendWebhook(ctx, url, payload) }, kind)
	}()
}

func (n *Notifier) logEvent(t eventlog.EventType, details *eventlog.SilenceDetails) {
	if err := n.events.LogSilence(t, details); err != nil {
		util.LogNotifyResult(func() error { return err }, "Silence log")
	}
}
