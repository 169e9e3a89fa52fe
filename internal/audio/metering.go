// Package audio provides level metering and silence detection for captured
// float32 audio.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// ClipThreshold is the absolute sample value counted as a clip.
	ClipThreshold = 0.999
)

// LevelData accumulates per-channel sample statistics between level updates.
type LevelData struct {
	SumSquaresL float64
	SumSquaresR float64
	PeakL       float64
	PeakR       float64
	ClipCountL  int
	ClipCountR  int
	SampleCount int
}

// ProcessSamples accumulates interleaved little-endian float32 frames.
// Mono input is metered on both channels; channels beyond two are ignored.
func ProcessSamples(buf []byte, channels int, data *LevelData) {
	if channels < 1 {
		return
	}
	stride := channels * 4
	for i := 0; i+stride <= len(buf); i += stride {
		left := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i:])))
		right := left
		if channels > 1 {
			right = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i+4:])))
		}

		data.SumSquaresL += left * left
		data.SumSquaresR += right * right

		absL, absR := math.Abs(left), math.Abs(right)
		data.PeakL = max(data.PeakL, absL)
		data.PeakR = max(data.PeakR, absR)
		if absL >= ClipThreshold {
			data.ClipCountL++
		}
		if absR >= ClipThreshold {
			data.ClipCountR++
		}
		data.SampleCount++
	}
}

// Levels contains calculated audio levels in dBFS.
type Levels struct {
	RMSLeft   float64
	RMSRight  float64
	PeakLeft  float64
	PeakRight float64
	ClipLeft  int
	ClipRight int
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMSLeft: MinDB, RMSRight: MinDB, PeakLeft: MinDB, PeakRight: MinDB}
	}

	n := float64(data.SampleCount)
	return Levels{
		RMSLeft:   toDB(math.Sqrt(data.SumSquaresL / n)),
		RMSRight:  toDB(math.Sqrt(data.SumSquaresR / n)),
		PeakLeft:  toDB(data.PeakL),
		PeakRight: toDB(data.PeakR),
		ClipLeft:  data.ClipCountL,
		ClipRight: data.ClipCountR,
	}
}

// toDB converts a linear full-scale amplitude to dBFS, floored at MinDB.
func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return max(20*math.Log10(v), MinDB)
}

// Reset clears the accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}
