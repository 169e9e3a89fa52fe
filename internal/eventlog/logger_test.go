package eventlog

import (
	"path/filepath"
	"testing"
)

func TestLoggerReadLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	types := []EventType{CaptureStarted, SilenceStart, UploadQueued, SilenceEnd, CaptureStopped}
	for _, typ := range types {
		if err := l.Log(&Event{Type: typ}); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	tests := []struct {
		name     string
		n        int
		offset   int
		filter   TypeFilter
		want     []EventType
		wantMore bool
	}{
		{"all newest first", 2, 0, FilterAll, []EventType{CaptureStopped, SilenceEnd}, true},
		{"offset", 2, 3, FilterAll, []EventType{SilenceStart, CaptureStarted}, false},
		{"capture", 10, 0, FilterCapture, []EventType{CaptureStopped, CaptureStarted}, false},
		{"silence", 1, 0, FilterSilence, []EventType{SilenceEnd}, true},
		{"recording", 10, 0, FilterRecording, []EventType{UploadQueued}, false},
		{"zero", 0, 0, FilterAll, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, more, err := ReadLast(path, tt.n, tt.offset, tt.filter)
			if err != nil {
				t.Fatalf("ReadLast() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ReadLast() returned %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("event %d = %s, want %s", i, got[i].Type, tt.want[i])
				}
			}
			if more != tt.wantMore {
				t.Errorf("hasMore = %v, want %v", more, tt.wantMore)
			}
		})
	}
}

func TestReadLastMissingFile(t *testing.T) {
	got, more, err := ReadLast(filepath.Join(t.TempDir(), "none.jsonl"), 10, 0, FilterAll)
	if err != nil || more || len(got) != 0 {
		t.Errorf("ReadLast() = %v, %v, %v; want empty", got, more, err)
	}
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	if err := l.Log(&Event{Type: CaptureStarted}); err != nil {
		t.Errorf("nil Log() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
