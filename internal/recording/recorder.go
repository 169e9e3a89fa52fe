package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// filePrefix starts every recording file name.
const filePrefix = "capture-"

// Recorder writes delivered audio to WAV files that rotate on the hour.
// Write is called from the capture consumer goroutine. Other methods are
// safe to call from any goroutine.
type Recorder struct {
	mu sync.Mutex

	cfg      config.RecordingConfig
	events   *eventlog.Logger
	uploader *Uploader
	now      func() time.Time

	state   State
	lastErr string

	// Current file
	wav         *WAVWriter
	currentFile string
	fileStart   time.Time
	fileHour    time.Time
	channels    int

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewRecorder creates a recorder for cfg. events may be nil.
func NewRecorder(cfg config.RecordingConfig, events *eventlog.Logger) *Recorder {
	return &Recorder{
		cfg:    cfg,
		events: events,
		now:    time.Now,
		state:  StateIdle,
	}
}

// Start prepares the output directory and starts the upload worker and
// the daily cleanup scheduler. Files are opened on the first Write.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.Enabled {
		return ErrRecordingDisabled
	}
	if r.state != StateIdle {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.cfg.Path, 0o755); err != nil {
		return util.WrapError("create recording directory", err)
	}
	if err := util.CheckPathWritable(r.cfg.Path); err != nil {
		return err
	}

	if r.uploader == nil {
		r.uploader = NewUploader(&r.cfg, r.events)
	}
	if r.uploader != nil {
		r.uploader.Start()
	}

	r.cleanupStop = make(chan struct{})
	r.cleanupDone = make(chan struct{})
	go r.cleanupScheduler(r.cleanupStop, r.cleanupDone)

	r.state = StateRecording
	r.lastErr = ""
	slog.Info("recording started", "path", r.cfg.Path, "storage", r.cfg.StorageMode)
	return nil
}

// Stop finalizes the current file, drains uploads and stops the scheduler.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.state = StateFinalizing
	err := r.finalizeLocked()
	stop, done := r.cleanupStop, r.cleanupDone
	r.mu.Unlock()

	close(stop)
	<-done
	if r.uploader != nil {
		r.uploader.Stop()
	}

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
	slog.Info("recording stopped")
	return err
}

// Write appends one delivery of interleaved float32 samples.
func (r *Recorder) Write(buf []byte, frames, channels int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return ErrNotRecording
	}
	if len(buf) != frames*channels*4 {
		return fmt.Errorf("%w: %d bytes for %d frames of %d channels", ErrFormatMismatch, len(buf), frames, channels)
	}

	now := r.now()
	if r.wav == nil || !truncateToHour(now).Equal(r.fileHour) || channels != r.channels {
		if err := r.rotateLocked(now, channels); err != nil {
			r.failLocked(err)
			return err
		}
	}

	if _, err := r.wav.Write(buf); err != nil {
		r.failLocked(err)
		return err
	}
	return nil
}

// CurrentFile returns the path of the file being written, if any.
func (r *Recorder) CurrentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFile
}

// Status returns a snapshot of the recorder.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{State: r.state, LastError: r.lastErr, File: r.currentFile}
	if r.wav != nil {
		start := r.fileStart
		st.FileStarted = &start
		st.BytesWritten = r.wav.DataBytes()
	}
	if r.uploader != nil {
		if t, errMsg := r.uploader.LastUpload(); !t.IsZero() {
			st.LastUpload = &t
			st.LastUploadErr = errMsg
		}
		st.PendingUploads = r.uploader.Pending()
	}
	return st
}

// rotateLocked closes the current file and opens a new one at now.
func (r *Recorder) rotateLocked(now time.Time, channels int) error {
	if err := r.finalizeLocked(); err != nil {
		slog.Warn("failed to finalize recording", "error", err)
	}
	if r.uploader != nil {
		r.uploader.RetryAsync()
	}

	name := fmt.Sprintf("%s%s-%s.wav", filePrefix, now.Format(util.HourLayout), now.Format("0405"))
	path := filepath.Join(r.cfg.Path, name)

	w, err := CreateWAV(path, capture.SampleRate, channels)
	if err != nil {
		return err
	}
	r.wav = w
	r.currentFile = path
	r.fileStart = now
	r.fileHour = truncateToHour(now)
	r.channels = channels
	slog.Info("recording file opened", "file", name)
	return nil
}

// finalizeLocked closes the current file and hands it to storage.
func (r *Recorder) finalizeLocked() error {
	if r.wav == nil {
		return nil
	}
	w, path := r.wav, r.currentFile
	r.wav = nil
	r.currentFile = ""

	size := w.DataBytes() + wavHeaderSize
	if err := w.Close(); err != nil {
		return util.WrapError("close recording", err)
	}

	r.logEvent(eventlog.RecordingFile, &eventlog.RecordingDetails{
		Filename:    filepath.Base(path),
		StorageMode: string(r.cfg.StorageMode),
		SizeBytes:   size,
	})
	if r.uploader != nil {
		r.uploader.Enqueue(path)
	}
	return nil
}

// failLocked drops the current file after a write error. The next
// Write opens a fresh file.
func (r *Recorder) failLocked(err error) {
	r.lastErr = err.Error()
	slog.Error("recording write failed", "file", r.currentFile, "error", err)
	r.logEvent(eventlog.RecordingError, &eventlog.RecordingDetails{
		Filename: filepath.Base(r.currentFile),
		Error:    err.Error(),
	})
	if r.wav != nil {
		_ = r.wav.Close()
		r.wav = nil
		r.currentFile = ""
	}
}

func (r *Recorder) logEvent(t eventlog.EventType, details *eventlog.RecordingDetails) {
	if err := r.events.LogRecording(t, details); err != nil {
		slog.Warn("failed to log recording event", "error", err)
	}
}
