package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples accumulates level data over S16LE PCM of any channel count.
func ProcessSamples(pcm []byte, data *LevelData) {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		v := float64(sample)

		data.SumSquares += v * v
		if abs := math.Abs(v); abs > data.Peak {
			data.Peak = abs
		}
		if sample >= ClipThreshold || sample <= -ClipThreshold {
			data.ClipCount++
		}
		data.SampleCount++
	}
}

// Level contains calculated audio levels in dBFS.
type Level struct {
	RMS  float64 `json:"rms_db"`
	Peak float64 `json:"peak_db"`
	Clip int     `json:"clip"`
}

// CalculateLevel computes RMS and peak levels from accumulated sample data.
func CalculateLevel(data *LevelData) Level {
	if data.SampleCount == 0 {
		return Level{RMS: MinDB, Peak: MinDB}
	}

	rms := math.Sqrt(data.SumSquares / float64(data.SampleCount))

	return Level{
		RMS:  max(toDB(rms), MinDB),
		Peak: max(toDB(data.Peak), MinDB),
		Clip: data.ClipCount,
	}
}

// Reset resets accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}

func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return 20 * math.Log10(v/MaxSampleValue)
}
