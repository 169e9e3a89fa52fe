package util

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("open", nil) != nil {
		t.Error("WrapError(nil) != nil")
	}
	base := errors.New("boom")
	err := WrapError("open stream", base)
	if !errors.Is(err, base) {
		t.Error("WrapError() does not wrap the cause")
	}
	if err.Error() != "failed to open stream: boom" {
		t.Errorf("WrapError() = %q", err)
	}
}

func TestErrorText(t *testing.T) {
	long := errors.New(strings.Repeat("x", 300))
	if got := ErrorText(long); len(got) != maxErrorLength+3 {
		t.Errorf("ErrorText() length = %d", len(got))
	}
	if got := ErrorText(errors.New("a\n  b")); got != "a b" {
		t.Errorf("ErrorText() = %q, want %q", got, "a b")
	}
}

func TestTimeFromFilename(t *testing.T) {
	got, ok := TimeFromFilename("capture-2026-10-19_14.wav", time.UTC)
	if !ok {
		t.Fatal("TimeFromFilename() found no timestamp")
	}
	want := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("TimeFromFilename() = %v, want %v", got, want)
	}
	if _, ok := TimeFromFilename("notes.txt", time.UTC); ok {
		t.Error("TimeFromFilename() matched a file without timestamp")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{45000, "45s"},
		{154000, "2m 34s"},
		{4980000, "1h 23m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("path", ""); err == nil {
		t.Error("ValidatePath(\"\") = nil")
	}
	if err := ValidatePath("path", "/tmp/../etc"); err == nil {
		t.Error("ValidatePath() accepted a parent reference")
	}
	if err := ValidatePath("path", "/var/lib/syscapture"); err != nil {
		t.Errorf("ValidatePath() = %v", err)
	}
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	if err := CheckPathWritable(dir); err != nil {
		t.Fatalf("CheckPathWritable() = %v", err)
	}
}
