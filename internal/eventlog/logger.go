// Package eventlog records capture, silence and recording events in a
// JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Capture event types.
const (
	CaptureStarted EventType = "capture_started"
	CaptureStopped EventType = "capture_stopped"
	CaptureError   EventType = "capture_error"
	CaptureRetry   EventType = "capture_retry"
)

// Silence event types.
const (
	SilenceStart EventType = "silence_start"
	SilenceEnd   EventType = "silence_end"
	SilenceDump  EventType = "silence_dump"
)

// Recording event types.
const (
	RecordingFile    EventType = "recording_file"
	RecordingError   EventType = "recording_error"
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	UploadRetry      EventType = "upload_retry"
	UploadAbandoned  EventType = "upload_abandoned"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event is a single log entry.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// CaptureDetails describes a capture lifecycle event.
type CaptureDetails struct {
	Backend    string `json:"backend,omitempty"`
	Device     string `json:"device,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	Delivered  uint64 `json:"delivered,omitempty"`
	Dropped    uint64 `json:"dropped,omitempty"`
	Skipped    uint64 `json:"skipped,omitempty"`
}

// SilenceDetails describes a silence transition.
type SilenceDetails struct {
	LevelLeftDB  float64 `json:"level_left_db"`
	LevelRightDB float64 `json:"level_right_db"`
	ThresholdDB  float64 `json:"threshold_db"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
}

// RecordingDetails describes a recording or upload event.
type RecordingDetails struct {
	Filename     string `json:"filename,omitempty"`
	StorageMode  string `json:"storage_mode,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Error        string `json:"error,omitempty"`
	RetryCount   int    `json:"retry,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
	StorageType  string `json:"storage_type,omitempty"`
}

// Logger appends events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific event log path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "syscapture", "events.jsonl")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "syscapture", "events.jsonl")
		}
		return filepath.Join(home, "Library", "Logs", "syscapture", "events.jsonl")
	default:
		return "/var/log/syscapture/events.jsonl"
	}
}

// NewLogger opens (or creates) the event log at filePath.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log appends event, stamping it with the current time when unset.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogCapture logs a capture lifecycle event.
func (l *Logger) LogCapture(eventType EventType, sessionID, message string, details *CaptureDetails) error {
	return l.Log(&Event{Type: eventType, SessionID: sessionID, Message: message, Details: details})
}

// LogSilence logs a silence transition.
func (l *Logger) LogSilence(eventType EventType, details *SilenceDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogRecording logs a recording or upload event.
func (l *Logger) LogRecording(eventType EventType, details *RecordingDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter selects a family of events when reading.
type TypeFilter string

// Filters for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterCapture   TypeFilter = "capture"
	FilterSilence   TypeFilter = "silence"
	FilterRecording TypeFilter = "recording"
)

// Matches reports whether t belongs to the filter's family.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterCapture:
		return strings.HasPrefix(string(t), "capture_")
	case FilterSilence:
		return strings.HasPrefix(string(t), "silence_")
	case FilterRecording:
		return strings.HasPrefix(string(t), "recording_") ||
			strings.HasPrefix(string(t), "upload_") || t == CleanupCompleted
	default:
		return false
	}
}

// MaxReadLimit caps the number of events returned by one ReadLast call.
const MaxReadLimit = 500

// ReadLast returns up to n events newest first, skipping the first offset
// matches. hasMore reports whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) (events []Event, hasMore bool, err error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return []Event{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // read-only

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events = make([]Event, 0, n)
	seen := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var ev Event
		if json.Unmarshal([]byte(lines[i]), &ev) != nil || !filter.Matches(ev.Type) {
			continue
		}
		seen++
		if seen <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, ev)
	}
	return events, false, nil
}
