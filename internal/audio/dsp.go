package audio

import (
	"encoding/binary"
	"math"
)

const (
	gateThresholdDB = -50.0
	gateHoldBlocks  = 10
	agcTargetDB     = -20.0
	agcMinGain      = 0.5
	agcMaxGain      = 8.0
	agcSmoothing    = 0.1
)

// processor applies the noise suppression and automatic gain control constraints in place.
// Echo cancellation is left to the backend, which knows whether a canceller exists.
type processor struct {
	noiseSuppression bool
	autoGain         bool

	gain      float64
	gateOpen  bool
	holdCount int
	level     LevelData
}

func newProcessor(_ Format, c Constraints) *processor {
	return &processor{
		noiseSuppression: c.NoiseSuppression,
		autoGain:         c.AutoGainControl,
		gain:             1,
	}
}

func (p *processor) process(pcm []byte) {
	if !p.noiseSuppression && !p.autoGain {
		return
	}

	p.level.Reset()
	ProcessSamples(pcm, &p.level)
	block := CalculateLevel(&p.level)

	factor := 1.0

	if p.autoGain && block.RMS > MinDB {
		desired := math.Pow(10, (agcTargetDB-block.RMS)/20)
		desired = math.Min(math.Max(desired, agcMinGain), agcMaxGain)
		p.gain += (desired - p.gain) * agcSmoothing
		factor *= p.gain
	}

	if p.noiseSuppression {
		if block.RMS >= gateThresholdDB {
			p.gateOpen = true
			p.holdCount = gateHoldBlocks
		} else if p.holdCount > 0 {
			p.holdCount--
		} else {
			p.gateOpen = false
		}
		if !p.gateOpen {
			factor = 0
		}
	}

	if factor == 1 {
		return
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * factor
		v = math.Max(math.Min(v, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}
