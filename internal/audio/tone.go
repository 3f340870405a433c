package audio

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	toneBlockDuration = 20 * time.Millisecond
	toneAmplitude     = 0.5
	defaultToneFreq   = 440.0
)

// ToneBackend synthesizes a microphone from a test signal.
// Sources are "sine:<hz>" or "silence"; an empty source is a 440Hz sine.
type ToneBackend struct {
	graph
}

// Type returns the backend type
func (t *ToneBackend) Type() BackendType {
	return BackendTypeTone
}

// ListSources returns example tone sources
func (t *ToneBackend) ListSources() ([]string, error) {
	return []string{"silence", "sine:440", "sine:1000"}, nil
}

// ValidateSource parses the source name
func (t *ToneBackend) ValidateSource(source string) error {
	_, err := parseToneSource(source)
	return err
}

// RequestStream starts the generator in real time
func (t *ToneBackend) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	freq, err := parseToneSource(c.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	format := Format{SampleRate: c.SampleRate, Channels: c.Channels}
	stream := newPCMStream(format, c)

	stop := make(chan struct{})
	stream.setStopper(func() error {
		close(stop)
		return nil
	})

	gen := &toneGenerator{format: format, freq: freq}
	frames := int(int64(format.SampleRate) * int64(toneBlockDuration) / int64(time.Second))

	// first block right away so the caller sees audio flowing
	stream.publish(gen.next(frames))

	go func() {
		ticker := time.NewTicker(toneBlockDuration)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stream.publish(gen.next(frames))
			}
		}
	}()

	if err := stream.awaitFirstBlock(ctx); err != nil {
		return nil, err
	}
	return stream, nil
}

func parseToneSource(source string) (float64, error) {
	switch {
	case source == "" || source == "default":
		return defaultToneFreq, nil
	case source == "silence":
		return 0, nil
	case strings.HasPrefix(source, "sine:"):
		freq, err := strconv.ParseFloat(strings.TrimPrefix(source, "sine:"), 64)
		if err != nil || freq <= 0 {
			return 0, fmt.Errorf("invalid tone frequency in %q", source)
		}
		return freq, nil
	default:
		return 0, fmt.Errorf("unknown tone source %q", source)
	}
}

// toneGenerator produces interleaved S16LE with the same sample on every channel
type toneGenerator struct {
	format Format
	freq   float64
	phase  float64
}

func (g *toneGenerator) next(frames int) []byte {
	samples := make([]int16, frames*g.format.Channels)
	step := 2 * math.Pi * g.freq / float64(g.format.SampleRate)

	for i := 0; i < frames; i++ {
		v := int16(0)
		if g.freq > 0 {
			v = int16(toneAmplitude * math.MaxInt16 * math.Sin(g.phase))
			g.phase = math.Mod(g.phase+step, 2*math.Pi)
		}
		for c := 0; c < g.format.Channels; c++ {
			samples[i*g.format.Channels+c] = v
		}
	}
	return int16ToBytes(samples)
}
