package audio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavEncoder writes a RIFF/WAVE container; the whole file is delivered as one chunk at finalize
type wavEncoder struct {
	callbacks

	stream Stream

	mu          sync.Mutex
	state       EncoderState
	file        *os.File
	enc         *wav.Encoder
	writeErr    error
	unsubscribe func()
}

func newWAVEncoder(stream Stream) *wavEncoder {
	return &wavEncoder{stream: stream, state: EncoderInactive}
}

func (e *wavEncoder) MimeType() string { return MimeWAV }

func (e *wavEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *wavEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != EncoderInactive {
		return ErrInvalidState
	}

	f, err := os.CreateTemp("", "voicecapture-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create wav scratch file: %w", err)
	}

	format := e.stream.Format()
	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)

	// an empty write forces the header out so Close can patch the sizes
	if err := enc.Write(e.buffer(nil)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	e.file = f
	e.enc = enc
	e.writeErr = nil
	e.state = EncoderRecording
	e.unsubscribe = e.stream.Subscribe(e.write)
	return nil
}

func (e *wavEncoder) buffer(pcm []byte) *goaudio.IntBuffer {
	format := e.stream.Format()
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           bytesToInts(pcm),
		SourceBitDepth: 16,
	}
}

func (e *wavEncoder) write(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc == nil || e.writeErr != nil {
		return
	}
	if err := e.enc.Write(e.buffer(pcm)); err != nil {
		e.writeErr = err
		slog.Error("WAV encoder write failed", "error", err)
	}
}

func (e *wavEncoder) Stop() error {
	e.mu.Lock()
	if e.state != EncoderRecording {
		e.mu.Unlock()
		return ErrInvalidState
	}
	e.state = EncoderInactive
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	unsubscribe()

	go func() {
		data, err := e.finalize()
		if err != nil {
			slog.Error("Failed to finalize WAV", "error", err)
		} else {
			e.emit(data)
		}
		slog.Debug("WAV encoder finalized", "bytes", len(data))
		e.stopped()
	}()
	return nil
}

func (e *wavEncoder) finalize() ([]byte, error) {
	e.mu.Lock()
	enc, f, writeErr := e.enc, e.file, e.writeErr
	e.enc, e.file = nil, nil
	e.mu.Unlock()

	if f == nil {
		return nil, nil
	}
	defer os.Remove(f.Name())

	closeErr := enc.Close()
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if writeErr != nil {
		return nil, writeErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close wav encoder: %w", closeErr)
	}

	return os.ReadFile(f.Name())
}
