// Package silencedump saves WAV clips of the audio around silence episodes.
package silencedump

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
)

const (
	// Clip timing.
	beforeSeconds     = 15
	maxSilenceSeconds = 5
	afterSeconds      = 15
	bufferSeconds     = beforeSeconds + maxSilenceSeconds + afterSeconds

	filePrefix = "silence-"
	fileLayout = "2006-01-02_15-04-05"
)

// DumpResult describes a saved clip.
type DumpResult struct {
	// FilePath is the full path to the WAV file.
	FilePath string
	// Filename is the base name of the WAV file.
	Filename string
	// FileSize is the WAV size in bytes.
	FileSize int64
	// Duration is the silence duration, before capping.
	Duration time.Duration
	// SilenceStart is when silence started.
	SilenceStart time.Time
	// Error is non-nil if the clip could not be written.
	Error error
}

// DumpCallback is called from a background goroutine when a clip is written.
type DumpCallback func(result *DumpResult)

// Capturer keeps the last bufferSeconds of audio in a ring and cuts a clip
// of 15 s before silence, up to 5 s of silence and 15 s after recovery.
// It is safe for concurrent use.
type Capturer struct {
	mu sync.Mutex

	bytesPerSecond int64
	frameBytes     int64
	channels       int

	buffer       []byte
	totalWritten int64 // Absolute byte position of the next write

	// Silence episode, as absolute positions.
	capturing       bool
	silenceStartPos int64
	silenceEndPos   int64 // 0 until recovery
	silenceStart    time.Time
	savedBefore     []byte // Pre-silence audio, copied before long silences overwrite it

	outputDir   string
	onDumpReady DumpCallback
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewCapturer creates a capturer for interleaved float32 audio with the
// given channel count.
func NewCapturer(outputDir string, channels int, onDumpReady DumpCallback) *Capturer {
	frameBytes := int64(channels * capture.BytesPerSample)
	bps := int64(capture.SampleRate) * frameBytes
	return &Capturer{
		bytesPerSecond: bps,
		frameBytes:     frameBytes,
		channels:       channels,
		buffer:         make([]byte, bufferSeconds*bps),
		outputDir:      outputDir,
		onDumpReady:    onDumpReady,
		now:            time.Now,
	}
}

// Write buffers audio and writes a pending clip once enough audio
// followed the recovery.
func (c *Capturer) Write(buf []byte) {
	if len(buf) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Only the newest ring-full matters.
	if over := len(buf) - len(c.buffer); over > 0 {
		c.totalWritten += int64(over)
		buf = buf[over:]
	}
	pos := int(c.totalWritten % int64(len(c.buffer)))
	n := copy(c.buffer[pos:], buf)
	copy(c.buffer, buf[n:])
	c.totalWritten += int64(len(buf))

	if c.capturing && c.silenceEndPos > 0 && c.totalWritten >= c.silenceEndPos+afterSeconds*c.bytesPerSecond {
		c.extractLocked()
		c.resetEpisodeLocked()
	}
}

// OnSilenceStart marks the start of a silence episode.
func (c *Capturer) OnSilenceStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A new episode before the previous clip completed: write what we have.
	if c.capturing && c.silenceEndPos > 0 {
		c.extractLocked()
	}

	beforeBytes := c.alignLocked(min(c.totalWritten, beforeSeconds*c.bytesPerSecond))
	c.savedBefore = nil
	if beforeBytes > 0 {
		c.savedBefore = make([]byte, beforeBytes)
		c.copyFromRing(c.savedBefore, c.totalWritten-beforeBytes)
	}

	c.capturing = true
	c.silenceStartPos = c.totalWritten
	c.silenceEndPos = 0
	c.silenceStart = c.now()

	slog.Debug("silence dump capture started", "position", c.silenceStartPos, "saved_before_bytes", len(c.savedBefore))
}

// OnSilenceRecover marks the end of the episode. recovery is how long audio
// had already been back when recovery was confirmed.
func (c *Capturer) OnSilenceRecover(recovery time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return
	}
	back := c.alignLocked(int64(recovery.Seconds() * float64(c.bytesPerSecond)))
	back = min(back, afterSeconds*c.bytesPerSecond)
	c.silenceEndPos = max(c.silenceStartPos, c.totalWritten-back)

	slog.Debug("silence dump recovery detected", "start_pos", c.silenceStartPos, "end_pos", c.silenceEndPos)
}

// alignLocked rounds n down to whole frames.
func (c *Capturer) alignLocked(n int64) int64 {
	return n - n%c.frameBytes
}

// extractLocked copies the clip out of the ring and writes it in the background.
func (c *Capturer) extractLocked() {
	silenceBytes := min(c.silenceEndPos-c.silenceStartPos, maxSilenceSeconds*c.bytesPerSecond)
	silenceBytes = max(0, c.alignLocked(silenceBytes))
	afterBytes := min(c.totalWritten-c.silenceEndPos, afterSeconds*c.bytesPerSecond)
	afterBytes = max(0, c.alignLocked(afterBytes))

	before := int64(len(c.savedBefore))
	pcm := make([]byte, before+silenceBytes+afterBytes)
	copy(pcm, c.savedBefore)
	// The tail of the silence, which is still in the ring for long episodes.
	c.copyFromRing(pcm[before:before+silenceBytes], c.silenceEndPos-silenceBytes)
	c.copyFromRing(pcm[before+silenceBytes:], c.silenceEndPos)
	c.savedBefore = nil

	start := c.silenceStart
	duration := time.Duration(float64(c.silenceEndPos-c.silenceStartPos) / float64(c.bytesPerSecond) * float64(time.Second))
	dir, channels, callback := c.outputDir, c.channels, c.onDumpReady

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result := writeClip(dir, channels, pcm, start, duration)
		if callback != nil {
			callback(result)
		}
	}()
}

func (c *Capturer) resetEpisodeLocked() {
	c.capturing = false
	c.silenceStartPos = 0
	c.silenceEndPos = 0
	c.silenceStart = time.Time{}
}

// copyFromRing copies len(dst) bytes starting at absolute position pos.
func (c *Capturer) copyFromRing(dst []byte, pos int64) {
	if len(dst) == 0 {
		return
	}
	start := int(pos % int64(len(c.buffer)))
	n := copy(dst, c.buffer[start:])
	copy(dst[n:], c.buffer)
}

// Reset clears all capture state.
func (c *Capturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalWritten = 0
	c.savedBefore = nil
	c.resetEpisodeLocked()
}

// Wait blocks until clips being written have finished.
func (c *Capturer) Wait() {
	c.wg.Wait()
}

// writeClip writes pcm to a WAV file named after the silence start.
func writeClip(dir string, channels int, pcm []byte, silenceStart time.Time, duration time.Duration) *DumpResult {
	result := &DumpResult{Duration: duration, SilenceStart: silenceStart}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Error = fmt.Errorf("create output dir: %w", err)
		return result
	}

	result.Filename = filePrefix + silenceStart.Local().Format(fileLayout) + ".wav"
	result.FilePath = filepath.Join(dir, result.Filename)

	wav, err := recording.CreateWAV(result.FilePath, capture.SampleRate, channels)
	if err != nil {
		result.Error = err
		return result
	}
	if _, err := wav.Write(pcm); err != nil {
		_ = wav.Close()
		result.Error = fmt.Errorf("write clip: %w", err)
		return result
	}
	if err := wav.Close(); err != nil {
		result.Error = fmt.Errorf("close clip: %w", err)
		return result
	}

	info, err := os.Stat(result.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("stat clip: %w", err)
		return result
	}
	result.FileSize = info.Size()

	slog.Info("silence dump saved", "file", result.Filename, "size", result.FileSize, "duration", duration)
	return result
}
