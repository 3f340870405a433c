package audio

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Media types understood by NewEncoder
const (
	MimeWAV = "audio/wav"
	MimeL16 = "audio/L16"
)

// ErrInvalidState is returned when Start or Stop is called in the wrong encoder state.
var ErrInvalidState = errors.New("encoder is not in a valid state for this operation")

// EncoderState mirrors the recording state of an encoder
type EncoderState string

const (
	EncoderInactive  EncoderState = "inactive"
	EncoderRecording EncoderState = "recording"
)

// EncoderOptions selects the container and chunking of an encoder
type EncoderOptions struct {
	MimeType  string
	Timeslice time.Duration // 0 = one chunk at finalize
}

// Encoder accumulates a stream into encoded chunks.
// Stop is asynchronous: remaining data is delivered through OnDataAvailable,
// then the OnStop callback fires once from another goroutine.
type Encoder interface {
	MimeType() string
	State() EncoderState
	OnDataAvailable(fn func(chunk []byte))
	OnStop(fn func())
	Start() error
	Stop() error
}

// NewEncoder builds the encoder for opts.MimeType, or the L16 default when it is empty
func NewEncoder(stream Stream, opts EncoderOptions) (Encoder, error) {
	base := strings.TrimSpace(strings.SplitN(opts.MimeType, ";", 2)[0])

	switch {
	case base == "":
		return newPCMEncoder(stream, opts.Timeslice), nil
	case strings.EqualFold(base, MimeL16):
		return newPCMEncoder(stream, opts.Timeslice), nil
	case strings.EqualFold(base, MimeWAV), strings.EqualFold(base, "audio/wave"), strings.EqualFold(base, "audio/x-wav"):
		return newWAVEncoder(stream), nil
	default:
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrEncoderConstruction, opts.MimeType)
	}
}

// callbacks holds the data/stop handlers shared by all encoders
type callbacks struct {
	mu     sync.Mutex
	onData func([]byte)
	onStop func()
}

func (c *callbacks) OnDataAvailable(fn func(chunk []byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *callbacks) OnStop(fn func()) {
	c.mu.Lock()
	c.onStop = fn
	c.mu.Unlock()
}

func (c *callbacks) emit(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	fn := c.onData
	c.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (c *callbacks) stopped() {
	c.mu.Lock()
	fn := c.onStop
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// pcmEncoder emits raw L16 PCM in network byte order, one chunk per timeslice
type pcmEncoder struct {
	callbacks

	stream    Stream
	timeslice time.Duration

	mu          sync.Mutex
	state       EncoderState
	session     int
	buf         bytes.Buffer
	unsubscribe func()
	flushStop   chan struct{}
	flushDone   chan struct{}
}

func newPCMEncoder(stream Stream, timeslice time.Duration) *pcmEncoder {
	return &pcmEncoder{
		stream:    stream,
		timeslice: timeslice,
		state:     EncoderInactive,
	}
}

func (e *pcmEncoder) MimeType() string {
	f := e.stream.Format()
	return fmt.Sprintf("%s;rate=%d;channels=%d", MimeL16, f.SampleRate, f.Channels)
}

func (e *pcmEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *pcmEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != EncoderInactive {
		return ErrInvalidState
	}

	e.buf.Reset()
	e.state = EncoderRecording
	e.session++
	session := e.session
	e.unsubscribe = e.stream.Subscribe(func(pcm []byte) {
		be := toBigEndian(pcm)
		e.mu.Lock()
		// blocks still in flight after Stop belong to no session
		if e.state == EncoderRecording && e.session == session {
			e.buf.Write(be)
		}
		e.mu.Unlock()
	})

	if e.timeslice > 0 {
		e.flushStop = make(chan struct{})
		e.flushDone = make(chan struct{})
		go e.flushLoop(e.flushStop, e.flushDone)
	}
	return nil
}

func (e *pcmEncoder) flushLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.emit(e.take())
		}
	}
}

func (e *pcmEncoder) take() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf.Len() == 0 {
		return nil
	}
	chunk := bytes.Clone(e.buf.Bytes())
	e.buf.Reset()
	return chunk
}

func (e *pcmEncoder) Stop() error {
	e.mu.Lock()
	if e.state != EncoderRecording {
		e.mu.Unlock()
		return ErrInvalidState
	}
	e.state = EncoderInactive
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	flushStop, flushDone := e.flushStop, e.flushDone
	e.flushStop, e.flushDone = nil, nil
	e.mu.Unlock()

	unsubscribe()

	go func() {
		if flushStop != nil {
			close(flushStop)
			<-flushDone
		}
		e.emit(e.take())
		slog.Debug("PCM encoder finalized")
		e.stopped()
	}()
	return nil
}
