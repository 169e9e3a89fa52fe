package silencedump

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
)

const testBPS = 44100 * 2 * 4

// seconds returns n seconds of stereo float32 audio filled with marker.
func seconds(n int, marker byte) []byte {
	return bytes.Repeat([]byte{marker}, n*testBPS)
}

type results struct {
	mu  sync.Mutex
	got []*DumpResult
}

func (r *results) add(res *DumpResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
}

func (r *results) all() []*DumpResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*DumpResult(nil), r.got...)
}

func newTestCapturer(t *testing.T) (*Capturer, *results) {
	t.Helper()
	res := &results{}
	c := NewCapturer(t.TempDir(), 2, res.add)
	c.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local) }
	return c, res
}

func readClip(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" {
		t.Fatalf("%s is not a WAV file", path)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); int(got) != len(data)-44 {
		t.Fatalf("data size = %d, want %d", got, len(data)-44)
	}
	return data[44:]
}

func TestCapturerClipLayout(t *testing.T) {
	c, res := newTestCapturer(t)

	c.Write(seconds(20, 1))
	c.OnSilenceStart()
	c.Write(seconds(8, 0))
	c.OnSilenceRecover(0)
	c.Write(seconds(14, 2))
	c.Wait()
	if n := len(res.all()); n != 0 {
		t.Fatalf("clip written after %d results, before the tail was complete", n)
	}

	c.Write(seconds(1, 2))
	c.Wait()

	got := res.all()
	if len(got) != 1 {
		t.Fatalf("got %d clips, want 1", len(got))
	}
	r := got[0]
	if r.Error != nil {
		t.Fatal(r.Error)
	}
	if r.Filename != "silence-2026-03-14_09-26-53.wav" {
		t.Errorf("Filename = %q", r.Filename)
	}
	if r.Duration != 8*time.Second {
		t.Errorf("Duration = %v, want 8s", r.Duration)
	}

	pcm := readClip(t, r.FilePath)
	want := append(append(seconds(15, 1), seconds(5, 0)...), seconds(15, 2)...)
	if len(pcm) != len(want) {
		t.Fatalf("clip holds %d bytes, want %d", len(pcm), len(want))
	}
	if !bytes.Equal(pcm, want) {
		t.Error("clip content does not match before/silence/after layout")
	}
	if r.FileSize != int64(len(want)+44) {
		t.Errorf("FileSize = %d, want %d", r.FileSize, len(want)+44)
	}
}

func TestCapturerShortHistory(t *testing.T) {
	c, res := newTestCapturer(t)

	c.Write(seconds(3, 1))
	c.OnSilenceStart()
	c.Write(seconds(1, 0))
	c.Write(seconds(1, 2))
	// Audio has been back for one second when recovery is confirmed.
	c.OnSilenceRecover(time.Second)
	c.Write(seconds(14, 2))
	c.Wait()

	got := res.all()
	if len(got) != 1 {
		t.Fatalf("got %d clips, want 1", len(got))
	}
	pcm := readClip(t, got[0].FilePath)
	want := append(append(seconds(3, 1), seconds(1, 0)...), seconds(15, 2)...)
	if !bytes.Equal(pcm, want) {
		t.Errorf("clip holds %d bytes, want %d with before/silence/after layout", len(pcm), len(want))
	}
}

func TestCapturerIgnoresRecoverWithoutSilence(t *testing.T) {
	c, res := newTestCapturer(t)

	c.Write(seconds(5, 1))
	c.OnSilenceRecover(0)
	c.Write(seconds(20, 2))
	c.Wait()

	if n := len(res.all()); n != 0 {
		t.Errorf("got %d clips, want 0", n)
	}
}

func TestCapturerReset(t *testing.T) {
	c, res := newTestCapturer(t)

	c.Write(seconds(5, 1))
	c.OnSilenceStart()
	c.Write(seconds(1, 0))
	c.OnSilenceRecover(0)
	c.Reset()
	c.Write(seconds(20, 2))
	c.Wait()

	if n := len(res.all()); n != 0 {
		t.Errorf("got %d clips after Reset, want 0", n)
	}
}

func TestManagerHandleSilenceEvent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(config.SilenceDumpConfig{Enabled: true, Path: dir, RetentionDays: 7}, nil)
	m.Start()

	m.Write(seconds(2, 1))
	m.HandleSilenceEvent(audio.SilenceEvent{JustEntered: true}, 0)
	m.Write(seconds(1, 0))
	m.HandleSilenceEvent(audio.SilenceEvent{JustRecovered: true, TotalDurationMs: 1000}, 0)
	m.Write(seconds(15, 2))
	m.Stop()

	matches, err := filepath.Glob(filepath.Join(dir, "silence-*.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("found %d clips, want 1", len(matches))
	}
}

func TestManagerRunCleanup(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)

	files := map[string]bool{
		"silence-2026-03-01_10-00-00.wav": false,
		"silence-2026-03-06_11-59-59.wav": false,
		"silence-2026-03-10_08-30-00.wav": true,
		"silence-2026-03-14_11-00-00.wav": true,
		"other-2026-03-01_10-00-00.wav":   true,
		"silence-2026-03-01_10-00-00.txt": true,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(config.SilenceDumpConfig{Enabled: true, Path: dir, RetentionDays: 7}, nil)
	m.now = func() time.Time { return now }

	if got := m.RunCleanup(); got != 2 {
		t.Errorf("RunCleanup() = %d, want 2", got)
	}
	for name, keep := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if exists := err == nil; exists != keep {
			t.Errorf("%s exists = %v, want %v", name, exists, keep)
		}
	}
}

func TestManagerRunCleanupKeepForever(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "silence-2020-01-01_00-00-00.wav")
	if err := os.WriteFile(name, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(config.SilenceDumpConfig{Enabled: true, Path: dir}, nil)
	if got := m.RunCleanup(); got != 0 {
		t.Errorf("RunCleanup() = %d, want 0", got)
	}
	if _, err := os.Stat(name); err != nil {
		t.Errorf("clip removed with zero retention: %v", err)
	}
}
