// Package recorder implements the microphone recorder widget: it captures a stream,
// paints a live waveform while recording and hands back one audio artifact per session.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/visual"
)

// State represents the session state of the widget
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateReady         State = "READY"
	StateRecording     State = "RECORDING"
)

// DefaultFFTSize is the analysis window used when Options.FFTSize is zero
const DefaultFFTSize = 2048

// Options configures a Widget. Only Backend is required.
type Options struct {
	Backend audio.Backend

	// Constraints selects the device; its processing flags are set from the Disable switches
	Constraints audio.Constraints

	// The zero value requests echo cancellation, noise suppression and gain control
	DisableEchoCancellation bool
	DisableNoiseSuppression bool
	DisableAutoGainControl  bool

	// Encoder is the preferred encoder; the backend default is used if it cannot be built
	Encoder audio.EncoderOptions

	// FixedMimeType, when set, tags every artifact regardless of the encoder container
	FixedMimeType string

	FFTSize int

	// Surface enables the waveform; nil records without drawing
	Surface    visual.Surface
	NewClock   func() visual.FrameClock
	Background color.RGBA
	Stroke     visual.Stroke

	Host     Host
	Notifier Notifier
}

// session is one Start..Stop cycle
type session struct {
	chunks    [][]byte
	finalized chan struct{}
	once      sync.Once
}

func (s *session) finish() {
	s.once.Do(func() { close(s.finalized) })
}

// Widget is a microphone recorder with an optional live waveform.
// Operations are serialized; State, Level and LastError may be called at any time.
type Widget struct {
	opts Options

	op sync.Mutex // serializes Initialize, Start, Stop and Release

	mu       sync.RWMutex
	state    State
	stream   audio.Stream
	analyser *audio.Analyser
	encoder  audio.Encoder
	session  *session
	lastErr  error
	lost     audio.Stream // last stream reported as gone
}

// New creates an uninitialized widget
func New(opts Options) *Widget {
	if opts.FFTSize == 0 {
		opts.FFTSize = DefaultFFTSize
	}
	if opts.NewClock == nil {
		opts.NewClock = func() visual.FrameClock { return visual.NewTickerClock(60) }
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Stroke.Width == 0 {
		opts.Stroke.Width = 2
	}
	return &Widget{opts: opts, state: StateUninitialized}
}

// State returns the current session state
func (w *Widget) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// LastError returns the error of the last failed operation, or nil
func (w *Widget) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Level returns the input level, or silence when no stream is open
func (w *Widget) Level() audio.Level {
	w.mu.RLock()
	analyser := w.analyser
	w.mu.RUnlock()

	if analyser == nil {
		return audio.Level{RMS: audio.MinDB, Peak: audio.MinDB}
	}
	return analyser.Level()
}

// MimeType returns the media type the next artifact will carry, or "" before initialization
func (w *Widget) MimeType() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mimeTypeLocked()
}

func (w *Widget) mimeTypeLocked() string {
	if w.opts.FixedMimeType != "" {
		return w.opts.FixedMimeType
	}
	if w.encoder == nil {
		return ""
	}
	return w.encoder.MimeType()
}

func (w *Widget) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// Initialize opens the microphone, the analysis tap and the encoder.
// On failure the user is notified and the widget stays uninitialized.
func (w *Widget) Initialize(ctx context.Context) bool {
	w.op.Lock()
	defer w.op.Unlock()
	return w.initialize(ctx)
}

func (w *Widget) initialize(ctx context.Context) bool {
	if w.State() != StateUninitialized {
		return true
	}

	if err := w.open(ctx); err != nil {
		slog.Error("Failed to initialize microphone", "error", err)
		w.setLastError(err)
		w.opts.Notifier.Notify("Unable to access microphone: " + err.Error())
		return false
	}

	w.mu.Lock()
	w.state = StateReady
	w.lastErr = nil
	mime := w.mimeTypeLocked()
	w.mu.Unlock()

	slog.Info("Microphone initialized", "backend", w.opts.Backend.Type(), "mime", mime)
	return true
}

func (w *Widget) open(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialization panicked: %v", r)
		}
	}()

	if w.opts.Backend == nil {
		return fmt.Errorf("%w: no audio backend configured", audio.ErrUnsupportedPlatform)
	}

	if w.opts.Host != nil {
		if err := w.opts.Host.PostMessage(MessageRequestMicrophonePermission); err != nil {
			slog.Debug("Host did not accept permission message", "error", err)
		}
	}

	c := w.opts.Constraints
	c.EchoCancellation = !w.opts.DisableEchoCancellation
	c.NoiseSuppression = !w.opts.DisableNoiseSuppression
	c.AutoGainControl = !w.opts.DisableAutoGainControl

	stream, err := w.opts.Backend.RequestStream(ctx, c)
	if err != nil {
		return err
	}

	analyser, err := w.opts.Backend.CreateAnalyser(stream, w.opts.FFTSize)
	if err != nil {
		w.stopStream(stream)
		return err
	}

	encoder, err := w.buildEncoder(stream)
	if err != nil {
		analyser.Close()
		w.stopStream(stream)
		return err
	}

	w.mu.Lock()
	w.stream = stream
	w.analyser = analyser
	w.encoder = encoder
	w.mu.Unlock()

	go w.watch(stream)
	return nil
}

// watch resets the widget when its stream ends without Release
func (w *Widget) watch(stream audio.Stream) {
	<-stream.Done()

	w.op.Lock()
	defer w.op.Unlock()

	w.mu.RLock()
	current, state := w.stream, w.state
	w.mu.RUnlock()

	if current != stream {
		return
	}
	w.reportLost(stream)
	// a recording keeps its handles until Stop hands back what was captured
	if state == StateReady {
		w.teardown()
	}
}

// reportLost records why stream ended and tells the user once per stream
func (w *Widget) reportLost(stream audio.Stream) {
	err := stream.Err()
	switch {
	case err == nil, errors.Is(err, audio.ErrStreamStopped):
		err = fmt.Errorf("%w: microphone stream ended", audio.ErrDeviceUnavailable)
	case !errors.Is(err, audio.ErrDeviceUnavailable):
		err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}

	w.mu.Lock()
	if w.lost == stream {
		w.mu.Unlock()
		return
	}
	w.lost = stream
	w.lastErr = err
	w.mu.Unlock()

	slog.Error("Microphone stream lost", "error", err)
	w.opts.Notifier.Notify("Microphone disconnected: " + err.Error())
}

func ended(stream audio.Stream) bool {
	if stream == nil {
		return false
	}
	select {
	case <-stream.Done():
		return true
	default:
		return false
	}
}

// buildEncoder prefers the configured container and falls back to the backend default
func (w *Widget) buildEncoder(stream audio.Stream) (audio.Encoder, error) {
	preferred := w.opts.Encoder

	encoder, err := w.opts.Backend.CreateEncoder(stream, preferred)
	if err == nil {
		return encoder, nil
	}
	if preferred.MimeType == "" {
		return nil, err
	}

	slog.Warn("Preferred encoder unavailable, using default", "mime", preferred.MimeType, "error", err)
	return w.opts.Backend.CreateEncoder(stream, audio.EncoderOptions{Timeslice: preferred.Timeslice})
}

// Start begins a recording session, initializing first if needed
func (w *Widget) Start(ctx context.Context) bool {
	w.op.Lock()
	defer w.op.Unlock()

	w.mu.RLock()
	state, stream := w.state, w.stream
	w.mu.RUnlock()

	if state == StateReady && ended(stream) {
		w.reportLost(stream)
		w.teardown()
		state = StateUninitialized
	}
	if state == StateUninitialized && !w.initialize(ctx) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateReady {
		return false
	}

	if w.encoder == nil {
		encoder, err := w.buildEncoder(w.stream)
		if err != nil {
			w.lastErr = err
			slog.Error("Failed to rebuild encoder", "error", err)
			return false
		}
		w.encoder = encoder
	}

	s := &session{finalized: make(chan struct{})}

	w.encoder.OnDataAvailable(func(chunk []byte) {
		w.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		n := len(s.chunks)
		w.mu.Unlock()
		slog.Debug("Chunk available", "bytes", len(chunk), "chunks", n)
	})
	w.encoder.OnStop(s.finish)

	if err := w.encoder.Start(); err != nil {
		w.lastErr = err
		slog.Error("Failed to start encoder", "error", err)
		return false
	}

	w.session = s
	w.state = StateRecording
	w.lastErr = nil

	if w.opts.Surface != nil {
		go w.visualize(w.opts.NewClock(), w.analyser, s)
	}

	slog.Info("Recording started")
	return true
}

// Stop finalizes the session and returns its artifact.
// When not recording it returns nil, nil and changes nothing.
func (w *Widget) Stop(ctx context.Context) (*Artifact, error) {
	w.op.Lock()
	defer w.op.Unlock()

	w.mu.RLock()
	state, encoder, s := w.state, w.encoder, w.session
	w.mu.RUnlock()

	if state != StateRecording {
		return nil, nil
	}

	if err := encoder.Stop(); err != nil {
		slog.Warn("Encoder refused to stop", "error", err)
		s.finish()
	}

	select {
	case <-s.finalized:
	case <-ctx.Done():
		// the late finalize belongs to an abandoned session; the next Start rebuilds the encoder
		w.mu.Lock()
		w.state = StateReady
		w.session = nil
		w.encoder = nil
		w.lastErr = ctx.Err()
		w.mu.Unlock()
		slog.Warn("Gave up waiting for encoder to finalize", "error", ctx.Err())
		return nil, ctx.Err()
	}

	w.mu.Lock()
	artifact := newArtifact(s.chunks, w.mimeTypeLocked())
	s.chunks = nil
	w.session = nil
	w.state = StateReady
	stream := w.stream
	w.mu.Unlock()

	slog.Info("Recording stopped", "id", artifact.ID, "bytes", artifact.Size(), "chunks", artifact.Chunks, "mime", artifact.MimeType)

	if ended(stream) {
		w.reportLost(stream)
		w.teardown()
	}
	return artifact, nil
}

// Release stops the hardware tracks and drops every handle. Safe to call at any time.
func (w *Widget) Release() {
	w.op.Lock()
	defer w.op.Unlock()

	if w.teardown() {
		slog.Info("Microphone released")
	}
}

// teardown drops every handle and returns to Uninitialized. The caller holds op.
func (w *Widget) teardown() bool {
	w.mu.Lock()
	stream, analyser, encoder := w.stream, w.analyser, w.encoder
	w.stream, w.analyser, w.encoder, w.session = nil, nil, nil, nil
	w.state = StateUninitialized
	w.mu.Unlock()

	if encoder != nil && encoder.State() == audio.EncoderRecording {
		encoder.OnDataAvailable(nil)
		encoder.OnStop(nil)
		if err := encoder.Stop(); err != nil {
			slog.Debug("Failed to stop encoder on release", "error", err)
		}
	}
	if analyser != nil {
		if err := analyser.Close(); err != nil {
			slog.Debug("Failed to close analyser", "error", err)
		}
	}
	if stream == nil {
		return false
	}
	w.stopStream(stream)
	return true
}

func (w *Widget) stopStream(stream audio.Stream) {
	if err := stream.Stop(); err != nil && !errors.Is(err, audio.ErrStreamStopped) {
		slog.Debug("Failed to stop stream", "error", err)
	}
}

func (w *Widget) recording(s *session) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateRecording && w.session == s
}

// visualize repaints the surface once per frame until the session ends
func (w *Widget) visualize(clock visual.FrameClock, analyser *audio.Analyser, s *session) {
	defer clock.Stop()

	surface := w.opts.Surface
	data := make([]byte, analyser.FrequencyBinCount())

	surface.Fill(w.opts.Background)

	for range clock.Frames() {
		if !w.recording(s) {
			return
		}

		analyser.ByteTimeDomainData(data)
		width, height := surface.Size()

		surface.Fill(w.opts.Background)
		surface.StrokePolyline(visual.Trace(data, width, height), w.opts.Stroke)
		if err := surface.Flush(); err != nil {
			slog.Debug("Failed to flush surface", "error", err)
		}
	}
}
