package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrStreamStopped is reported by a stream whose tracks were stopped by the caller.
var ErrStreamStopped = errors.New("stream stopped")

// Format describes interleaved signed 16-bit little-endian PCM
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerFrame returns the size of one interleaved frame
func (f Format) BytesPerFrame() int {
	return 2 * f.Channels
}

// Stream is a live microphone stream granted by a Backend
type Stream interface {
	Format() Format

	// Subscribe registers fn for every PCM block; the block must not be retained
	Subscribe(fn func(pcm []byte)) (unsubscribe func())

	// Stop stops the underlying hardware tracks. Safe to call more than once.
	Stop() error

	// Done is closed once the stream ended, by Stop or by a device failure
	Done() <-chan struct{}

	// Err reports why the stream ended
	Err() error
}

// pcmStream fans PCM blocks out to subscribers after the constraint processing chain
type pcmStream struct {
	format Format

	mu      sync.RWMutex
	sinks   map[int]func([]byte)
	nextID  int
	dsp     *processor
	stopper func() error
	err     error

	started     chan struct{}
	startedOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
}

func newPCMStream(format Format, c Constraints) *pcmStream {
	return &pcmStream{
		format:  format,
		sinks:   make(map[int]func([]byte)),
		dsp:     newProcessor(format, c),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *pcmStream) Format() Format { return s.format }

func (s *pcmStream) Done() <-chan struct{} { return s.done }

func (s *pcmStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *pcmStream) Subscribe(fn func(pcm []byte)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.sinks[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.sinks, id)
		s.mu.Unlock()
	}
}

// setStopper installs the function that releases the platform handles
func (s *pcmStream) setStopper(fn func() error) {
	s.mu.Lock()
	s.stopper = fn
	s.mu.Unlock()
}

func (s *pcmStream) Stop() error {
	var err error
	s.doneOnce.Do(func() {
		s.mu.Lock()
		stopper := s.stopper
		s.err = ErrStreamStopped
		s.mu.Unlock()

		if stopper != nil {
			err = stopper()
		}
		close(s.done)
	})
	return err
}

// fail ends the stream because the device went away
func (s *pcmStream) fail(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		stopper := s.stopper
		s.mu.Unlock()

		slog.Debug("Audio stream ended", "error", err)
		if stopper != nil {
			if stopErr := stopper(); stopErr != nil {
				slog.Debug("Failed to release stream after error", "error", stopErr)
			}
		}
		close(s.done)
	})
}

// publish runs the processing chain over pcm and hands it to every subscriber
func (s *pcmStream) publish(pcm []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	block := make([]byte, len(pcm)-len(pcm)%s.format.BytesPerFrame())
	copy(block, pcm)
	s.dsp.process(block)

	s.mu.RLock()
	sinks := make([]func([]byte), 0, len(s.sinks))
	for _, fn := range s.sinks {
		sinks = append(sinks, fn)
	}
	s.mu.RUnlock()

	for _, fn := range sinks {
		fn(block)
	}

	s.startedOnce.Do(func() { close(s.started) })
}

// awaitFirstBlock blocks until audio flows, the stream fails or ctx expires
func (s *pcmStream) awaitFirstBlock(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

// pump copies PCM from r into the stream until r fails or the stream stops.
// The read error is returned for the caller to classify.
func pump(r io.Reader, s *pcmStream, blockFrames int) error {
	buf := make([]byte, blockFrames*s.format.BytesPerFrame())
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.publish(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}
	}
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func bytesToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// toBigEndian returns a copy of little-endian s16 pcm in network byte order
func toBigEndian(pcm []byte) []byte {
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		out[i], out[i+1] = pcm[i+1], pcm[i]
	}
	return out
}
