package silencedump

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// Manager owns the clip capturer and the daily retention cleanup.
type Manager struct {
	mu sync.Mutex

	cfg      config.SilenceDumpConfig
	capturer *Capturer
	events   *eventlog.Logger
	now      func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewManager creates a manager for stereo capture.
func NewManager(cfg config.SilenceDumpConfig, events *eventlog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		events: events,
		now:    time.Now,
	}
	m.capturer = NewCapturer(cfg.Path, 2, m.dumpReady)
	return m
}

// Start begins the cleanup scheduler.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.cleanupScheduler(m.stopCh, m.doneCh)

	slog.Info("silence dump manager started", "path", m.cfg.Path, "retention_days", m.cfg.RetentionDays)
}

// Stop stops the scheduler, waits for pending clips and resets the capturer.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
	m.capturer.Wait()
	m.capturer.Reset()

	slog.Info("silence dump manager stopped")
}

// Write feeds one period of interleaved float32 audio to the capturer.
func (m *Manager) Write(buf []byte) {
	m.capturer.Write(buf)
}

// HandleSilenceEvent starts or ends a clip on silence transitions.
// recoveryMs is the audio needed before silence counts as ended.
func (m *Manager) HandleSilenceEvent(ev audio.SilenceEvent, recoveryMs int64) {
	if ev.JustEntered {
		m.capturer.OnSilenceStart()
	}
	if ev.JustRecovered {
		m.capturer.OnSilenceRecover(time.Duration(recoveryMs) * time.Millisecond)
	}
}

func (m *Manager) dumpReady(result *DumpResult) {
	details := &eventlog.RecordingDetails{
		Filename:  result.Filename,
		SizeBytes: result.FileSize,
	}
	if result.Error != nil {
		slog.Error("silence dump failed", "error", result.Error)
		details.Error = result.Error.Error()
	}
	if err := m.events.LogRecording(eventlog.SilenceDump, details); err != nil {
		slog.Warn("failed to log silence dump event", "error", err)
	}
}

// cleanupScheduler runs RunCleanup every day at 03:00.
func (m *Manager) cleanupScheduler(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		now := m.now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		slog.Debug("silence dump cleanup: next run scheduled", "at", next.Format(time.DateTime))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			m.RunCleanup()
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// RunCleanup removes clips older than the retention period and returns
// the number deleted. A retention of zero keeps clips forever.
func (m *Manager) RunCleanup() int {
	if m.cfg.RetentionDays == 0 {
		return 0
	}

	entries, err := os.ReadDir(m.cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("silence dump cleanup: failed to read directory", "path", m.cfg.Path, "error", err)
		}
		return 0
	}

	cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)
	deleted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != ".wav" {
			continue
		}
		started, ok := util.TimeFromFilename(name, time.Local)
		if !ok || !started.Before(cutoff) {
			continue
		}
		path := filepath.Join(m.cfg.Path, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("silence dump cleanup: failed to delete file", "path", path, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("silence dump cleanup: deleted old clips", "count", deleted)
	}
	return deleted
}
