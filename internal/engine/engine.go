// Package engine runs system audio capture for the service. It owns the
// current capture session, fans captured audio out to metering, silence
// notifications and recording, and restarts failed sessions with
// exponential backoff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/notify"
	"github.com/oszuidwest/zwfm-syscapture/internal/observe"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
	"github.com/oszuidwest/zwfm-syscapture/internal/silencedump"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// Sentinel errors for engine operations.
var (
	ErrAlreadyRunning = errors.New("capture already running")
	ErrNotRunning     = errors.New("capture not running")
)

// Engine manages capture sessions and distributes their audio.
type Engine struct {
	config   *config.Config
	backend  capture.Backend
	events   *eventlog.Logger
	notifier *notify.Notifier
	recorder *recording.Recorder
	dumps    *silencedump.Manager
	metrics  *observe.Metrics

	mu              sync.RWMutex
	state           types.EngineState
	session         *capture.Session
	stopChan        chan struct{}
	loopDone        chan struct{}
	lastError       string
	retryCount      int
	backoff         *util.Backoff
	audioLevels     audio.AudioLevels
	lastKnownLevels audio.AudioLevels // Cache for TryRLock fallback
	totals          capture.Stats     // Counters of finished sessions
	distributor     *Distributor
}

// New creates an engine that captures through backend. events may be nil.
func New(cfg *config.Config, backend capture.Backend, events *eventlog.Logger) *Engine {
	e := &Engine{
		config:      cfg,
		backend:     backend,
		events:      events,
		notifier:    notify.NewNotifier(cfg, events),
		state:       types.StateStopped,
		backoff:     util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		audioLevels: audio.SilentLevels(),
	}
	e.lastKnownLevels = e.audioLevels
	return e
}

// SetMetrics attaches metric instruments. Call before Start.
func (e *Engine) SetMetrics(m *observe.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Backend returns the capture backend.
func (e *Engine) Backend() capture.Backend {
	return e.backend
}

// RecordingStatus returns the recorder status.
func (e *Engine) RecordingStatus() recording.Status {
	e.mu.RLock()
	rec := e.recorder
	e.mu.RUnlock()
	if rec == nil {
		return recording.Status{State: recording.StateIdle}
	}
	return rec.Status()
}

// State returns the current engine state.
func (e *Engine) State() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsRunning reports whether a session is delivering audio.
func (e *Engine) IsRunning() bool {
	return e.State() == types.StateRunning
}

// AudioLevels returns the current audio levels.
func (e *Engine) AudioLevels() audio.AudioLevels {
	if !e.mu.TryRLock() {
		return e.lastKnownLevels
	}
	defer e.mu.RUnlock()

	if e.state != types.StateRunning {
		return audio.SilentLevels()
	}
	return e.audioLevels
}

// Status returns the current engine status.
func (e *Engine) Status() types.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := types.EngineStatus{
		State:      e.state,
		Backend:    e.backend.Name(),
		LastError:  e.lastError,
		RetryCount: e.retryCount,
		MaxRetries: e.config.Snapshot().Capture.MaxRetries,
	}
	if s := e.session; s != nil {
		st.Session = s.ID()
		st.Device = s.Device().Name
		st.Stats = s.Stats()
		if e.state == types.StateRunning {
			st.Uptime = time.Since(s.StartedAt()).Truncate(time.Second).String()
		}
	}
	return st
}

// TotalStats returns counters summed over all sessions. QueueDepth and
// BufferCapacity describe the current session.
func (e *Engine) TotalStats() capture.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := e.totals
	if s := e.session; s != nil {
		cur := s.Stats()
		total.Periods += cur.Periods
		total.Delivered += cur.Delivered
		total.Dropped += cur.Dropped
		total.Skipped += cur.Skipped
		total.QueueDepth = cur.QueueDepth
		total.BufferCapacity = cur.BufferCapacity
	}
	return total
}

// MetricsSnapshot reports engine state to the metrics collector.
func (e *Engine) MetricsSnapshot() observe.Snapshot {
	state := capture.StateIdle
	if e.IsRunning() {
		state = capture.StateRunning
	}
	levels := e.AudioLevels()
	return observe.Snapshot{
		Stats:    e.TotalStats(),
		State:    state,
		LevelsDB: []float64{levels.Left, levels.Right},
	}
}

// Devices lists the devices the backend can capture from.
func (e *Engine) Devices(ctx context.Context) ([]capture.Device, error) {
	return e.backend.Devices(ctx)
}

// Start begins capture and keeps it running until Stop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateStopped {
		return ErrAlreadyRunning
	}

	e.state = types.StateStarting
	e.stopChan = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.retryCount = 0
	e.lastError = ""
	e.backoff.Reset()
	e.notifier.Reset()

	// Recording and dump settings are picked up on every start.
	snap := e.config.Snapshot()
	e.recorder = nil
	if snap.Recording.Enabled {
		e.recorder = recording.NewRecorder(snap.Recording, e.events)
	}
	e.dumps = nil
	if snap.SilenceDump.Enabled {
		e.dumps = silencedump.NewManager(snap.SilenceDump, e.events)
	}
	e.distributor = NewDistributor(e.config, e.notifier, e.recorder, e.metrics, e.updateAudioLevels)
	e.distributor.SetDumps(e.dumps)

	if e.recorder != nil {
		if err := e.recorder.Start(); err != nil {
			slog.Error("failed to start recording", "error", err)
		}
	}
	if e.dumps != nil {
		e.dumps.Start()
	}

	go e.runLoop(e.stopChan, e.loopDone)
	return nil
}

// Stop ends the current session and any pending restart. It waits for the
// session to finish tearing down or for ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == types.StateStopped || e.state == types.StateStopping {
		e.mu.Unlock()
		return nil
	}
	e.state = types.StateStopping
	close(e.stopChan)
	done := e.loopDone
	e.mu.Unlock()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for capture to stop: %w", context.Cause(ctx)))
	}

	if err := e.stopSinks(); err != nil {
		errs = append(errs, err)
	}
	e.notifier.Wait()

	e.mu.Lock()
	e.state = types.StateStopped
	e.mu.Unlock()

	return errors.Join(errs...)
}

// stopSinks finalizes the recorder and stops the silence clip manager.
// Both tolerate being stopped more than once.
func (e *Engine) stopSinks() error {
	e.mu.RLock()
	rec := e.recorder
	dumps := e.dumps
	e.mu.RUnlock()

	var err error
	if rec != nil {
		if stopErr := rec.Stop(); stopErr != nil && !errors.Is(stopErr, recording.ErrNotRecording) {
			err = fmt.Errorf("stop recording: %w", stopErr)
		}
	}
	if dumps != nil {
		dumps.Stop()
	}
	return err
}

// finishLoop tears down the sinks when capture ended without Stop.
func (e *Engine) finishLoop() {
	if err := e.stopSinks(); err != nil {
		slog.Error("failed to stop sinks", "error", err)
	}
	e.mu.Lock()
	e.state = types.StateStopped
	e.mu.Unlock()
}

// Restart stops and starts capture, picking up new capture settings.
func (e *Engine) Restart(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return e.Start()
}

// runLoop opens sessions until Stop, restarting failed ones with backoff.
func (e *Engine) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		started := time.Now()
		err, stopped := e.runSession(stop)
		if stopped {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		runDuration := time.Since(started)

		maxRetries := e.config.Snapshot().Capture.MaxRetries

		e.mu.Lock()
		if err == nil {
			// Ended by capture.StopAll or a similar outside stop.
			e.mu.Unlock()
			slog.Info("capture ended without error, not restarting")
			e.finishLoop()
			return
		}

		e.lastError = util.ErrorText(err)
		if runDuration >= types.SuccessThreshold {
			e.retryCount = 0
			e.backoff.Reset()
		}
		e.retryCount++
		retry := e.retryCount
		sessionID := ""
		if e.session != nil {
			sessionID = e.session.ID()
		}

		if retry > maxRetries || !retryable(err) {
			if retryable(err) {
				e.lastError = fmt.Sprintf("stopped after %d failed attempts: %s", maxRetries, e.lastError)
			}
			lastError := e.lastError
			e.mu.Unlock()

			slog.Error("capture failed, giving up", "error", err, "attempts", retry)
			e.logCapture(eventlog.CaptureError, sessionID, lastError, &eventlog.CaptureDetails{
				Backend: e.backend.Name(), Error: util.ErrorText(err), RetryCount: retry, MaxRetries: maxRetries,
			})
			e.notifier.CaptureFailed(sessionID, err, retry, true)
			e.finishLoop()
			return
		}

		e.state = types.StateStarting
		delay := e.backoff.Next()
		e.mu.Unlock()

		slog.Warn("capture stopped, waiting before restart", "error", err, "delay", delay, "attempt", retry, "max_retries", maxRetries)
		e.logCapture(eventlog.CaptureRetry, sessionID, "restarting capture", &eventlog.CaptureDetails{
			Backend: e.backend.Name(), Error: util.ErrorText(err), RetryCount: retry, MaxRetries: maxRetries,
		})
		e.notifier.CaptureFailed(sessionID, err, retry, false)
		if retry > 1 && e.metrics != nil {
			e.metrics.Restarts.Add(context.Background(), 1)
		}

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// retryable reports whether a new session could succeed where err failed.
func retryable(err error) bool {
	if errors.Is(err, capture.ErrPermissionDenied) {
		return false
	}
	var cfgErr *capture.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Step == capture.StepOptions {
		return false
	}
	return true
}

// runSession runs one capture session. It returns the error that ended
// the session, and stopped when Stop was requested.
func (e *Engine) runSession(stop <-chan struct{}) (err error, stopped bool) {
	snap := e.config.Snapshot()
	opts := snap.StreamOptions()

	e.mu.Lock()
	dist := e.distributor
	metrics := e.metrics
	e.mu.Unlock()
	dist.Reset()

	sess := capture.New(e.backend, opts, capture.Callbacks{
		OnData: dist.Process,
	})
	slog.Info("starting audio capture", "session", sess.ID(), "backend", e.backend.Name(), "target", opts.Target.String())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	startErr := sess.Start(ctx)
	cancel()
	if metrics != nil {
		metrics.RecordSessionStart(context.Background(), startErr)
	}

	e.mu.Lock()
	e.session = sess
	if startErr == nil && e.state == types.StateStarting {
		e.state = types.StateRunning
		e.lastError = ""
	}
	e.mu.Unlock()

	if startErr != nil {
		select {
		case <-stop:
			return nil, true
		default:
		}
		slog.Error("failed to start capture", "session", sess.ID(), "error", startErr)
		e.retireSession(sess)
		return startErr, false
	}

	dev := sess.Device()
	slog.Info("audio capture running", "session", sess.ID(), "device", dev.Name)
	e.logCapture(eventlog.CaptureStarted, sess.ID(), "capture started", &eventlog.CaptureDetails{
		Backend: e.backend.Name(), Device: dev.Name,
	})

	ticker := time.NewTicker(types.StatsLogInterval)
	defer ticker.Stop()
	var last capture.Stats
	for {
		select {
		case <-sess.Done():
			err = sess.Err()
			e.logStopped(sess, err)
			e.retireSession(sess)
			return err, false
		case <-stop:
			sess.Stop()
			<-sess.Done()
			e.logStopped(sess, nil)
			e.retireSession(sess)
			return nil, true
		case <-ticker.C:
			last = logDrops(sess, last)
		}
	}
}

// retireSession folds the session counters into the totals.
func (e *Engine) retireSession(sess *capture.Session) {
	st := sess.Stats()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals.Periods += st.Periods
	e.totals.Delivered += st.Delivered
	e.totals.Dropped += st.Dropped
	e.totals.Skipped += st.Skipped
	if e.session == sess {
		e.session = nil
	}
	e.audioLevels = audio.SilentLevels()
	e.lastKnownLevels = e.audioLevels
}

func (e *Engine) logStopped(sess *capture.Session, err error) {
	st := sess.Stats()
	details := &eventlog.CaptureDetails{
		Backend:   e.backend.Name(),
		Device:    sess.Device().Name,
		Delivered: st.Delivered,
		Dropped:   st.Dropped,
		Skipped:   st.Skipped,
	}
	if err != nil {
		details.Error = util.ErrorText(err)
		e.logCapture(eventlog.CaptureError, sess.ID(), "capture stopped by the system", details)
		return
	}
	slog.Info("audio capture stopped", "session", sess.ID(), "delivered", st.Delivered, "dropped", st.Dropped)
	e.logCapture(eventlog.CaptureStopped, sess.ID(), "capture stopped", details)
}

// logDrops logs dropped and skipped periods since prev.
func logDrops(sess *capture.Session, prev capture.Stats) capture.Stats {
	cur := sess.Stats()
	dropped := cur.Dropped - prev.Dropped
	skipped := cur.Skipped - prev.Skipped
	if dropped > 0 || skipped > 0 {
		slog.Warn("capture lost periods", "session", sess.ID(), "dropped", dropped, "skipped", skipped, "queue_depth", cur.QueueDepth)
	}
	return cur
}

func (e *Engine) logCapture(t eventlog.EventType, sessionID, msg string, details *eventlog.CaptureDetails) {
	if err := e.events.LogCapture(t, sessionID, msg, details); err != nil {
		slog.Warn("failed to log capture event", "error", err)
	}
}

// updateAudioLevels stores the latest levels for the UI.
func (e *Engine) updateAudioLevels(levels audio.AudioLevels) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioLevels = levels
	e.lastKnownLevels = levels
}
