package recording

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const (
	wavHeaderSize   = 44
	wavFormatFloat  = 3
	wavBitsPerFloat = 32
)

// wavHeader is the canonical 44-byte RIFF/WAVE header.
type wavHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(sampleRate, channels int, dataSize uint32) wavHeader {
	blockAlign := channels * wavBitsPerFloat / 8
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      wavHeaderSize - 8 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   wavFormatFloat,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: wavBitsPerFloat,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
}

// WAVWriter writes interleaved little-endian float32 samples to a WAV
// file. The header sizes are patched on Close.
type WAVWriter struct {
	file       *os.File
	buf        *bufio.Writer
	sampleRate int
	channels   int
	dataBytes  int64
}

// CreateWAV creates path and writes a placeholder header.
func CreateWAV(path string, sampleRate, channels int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	w := &WAVWriter{
		file:       f,
		buf:        bufio.NewWriterSize(f, 256<<10),
		sampleRate: sampleRate,
		channels:   channels,
	}
	hdr := newWAVHeader(sampleRate, channels, 0)
	if err := binary.Write(w.buf, binary.LittleEndian, &hdr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

// Write appends raw sample bytes. p must hold whole frames.
func (w *WAVWriter) Write(p []byte) (int, error) {
	if len(p)%(w.channels*4) != 0 {
		return 0, fmt.Errorf("wav: partial frame of %d bytes", len(p))
	}
	if w.dataBytes+int64(len(p)) > math.MaxUint32-wavHeaderSize {
		return 0, fmt.Errorf("wav: file size limit reached")
	}
	n, err := w.buf.Write(p)
	w.dataBytes += int64(n)
	return n, err
}

// DataBytes returns the number of sample bytes written.
func (w *WAVWriter) DataBytes() int64 {
	return w.dataBytes
}

// Close flushes buffered samples, fixes up the header and closes the file.
func (w *WAVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	if err := w.buf.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush wav: %w", err)
	}
	hdr := newWAVHeader(w.sampleRate, w.channels, uint32(w.dataBytes))
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("seek wav header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		_ = f.Close()
		return fmt.Errorf("patch wav header: %w", err)
	}
	return f.Close()
}
