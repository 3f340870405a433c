package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Analyser is the analysis tap: it keeps the most recent fftSize mono samples of a stream.
type Analyser struct {
	mu sync.RWMutex

	fftSize  int
	channels int
	ring     []int16
	writePos int
	filled   int

	level       LevelData
	lastLevel   Level
	unsubscribe func()
}

// NewAnalyser attaches an analyser to stream. fftSize must be a power of two >= 32.
func NewAnalyser(stream Stream, fftSize int) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two >= 32, got %d", fftSize)
	}

	a := &Analyser{
		fftSize:   fftSize,
		channels:  stream.Format().Channels,
		ring:      make([]int16, fftSize),
		lastLevel: Level{RMS: MinDB, Peak: MinDB},
	}
	a.unsubscribe = stream.Subscribe(a.write)
	return a, nil
}

// FFTSize returns the analysis window length in samples
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount is half the window, the buffer length used for drawing
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// ByteTimeDomainData copies the current window into dst as unsigned bytes centered at 128.
// Only the first min(len(dst), fftSize) samples of the window are written.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := min(len(dst), a.fftSize)
	missing := a.fftSize - a.filled
	start := a.writePos - a.filled

	for i := 0; i < n; i++ {
		if i < missing {
			dst[i] = 128
			continue
		}
		idx := (start + i - missing + 2*a.fftSize) % a.fftSize
		dst[i] = toUnsignedByte(a.ring[idx])
	}
}

// Level returns the level of the most recent block
func (a *Analyser) Level() Level {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastLevel
}

// Close detaches the analyser from its stream. Safe to call more than once.
func (a *Analyser) Close() error {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

func (a *Analyser) write(pcm []byte) {
	frame := 2 * a.channels

	a.mu.Lock()
	defer a.mu.Unlock()

	a.level.Reset()
	ProcessSamples(pcm, &a.level)
	a.lastLevel = CalculateLevel(&a.level)

	for i := 0; i+frame <= len(pcm); i += frame {
		sum := 0
		for c := 0; c < a.channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i+2*c:])))
		}
		a.ring[a.writePos] = int16(sum / a.channels)
		a.writePos = (a.writePos + 1) % a.fftSize
		if a.filled < a.fftSize {
			a.filled++
		}
	}
}

func toUnsignedByte(v int16) byte {
	return byte((int(v) + 32768) >> 8)
}
