// Package recording writes captured audio to hourly WAV files and
// optionally uploads finished files to S3-compatible storage.
package recording

import (
	"errors"
	"time"
)

// Sentinel errors for recording operations.
var (
	// ErrRecordingDisabled is returned when recording is disabled in configuration.
	ErrRecordingDisabled = errors.New("recording is disabled")

	// ErrAlreadyRecording is returned when Start is called on a running recorder.
	ErrAlreadyRecording = errors.New("recorder is already recording")

	// ErrNotRecording is returned when audio arrives while the recorder is idle.
	ErrNotRecording = errors.New("recorder is not recording")

	// ErrFormatMismatch is returned when audio does not match the open file.
	ErrFormatMismatch = errors.New("audio format does not match recording")
)

// State tracks the state of a recorder.
type State string

const (
	// StateIdle indicates no active recording.
	StateIdle State = "idle"
	// StateRecording indicates recording is in progress.
	StateRecording State = "recording"
	// StateFinalizing indicates files are being closed and uploads drained.
	StateFinalizing State = "finalizing"
)

// Status is a snapshot of the recorder for the UI.
type Status struct {
	State          State      `json:"state"`
	File           string     `json:"file,omitempty"`
	FileStarted    *time.Time `json:"file_started,omitempty"`
	BytesWritten   int64      `json:"bytes_written"`
	LastError      string     `json:"last_error,omitempty"`
	LastUpload     *time.Time `json:"last_upload,omitempty"`
	LastUploadErr  string     `json:"last_upload_error,omitempty"`
	PendingUploads int        `json:"pending_uploads"`
}

// truncateToHour truncates a time to the start of its hour.
func truncateToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// nextCleanup returns the next 03:00 after now.
func nextCleanup(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
