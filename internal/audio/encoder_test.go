package audio

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

// chunkSink collects encoder output until OnStop fires
type chunkSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	stopped chan struct{}
}

func attachSink(e Encoder) *chunkSink {
	s := &chunkSink{stopped: make(chan struct{})}
	e.OnDataAvailable(func(chunk []byte) {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	})
	e.OnStop(func() { close(s.stopped) })
	return s
}

func (s *chunkSink) wait(t *testing.T) [][]byte {
	t.Helper()
	select {
	case <-s.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for encoder stop")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func TestNewEncoder_Selection(t *testing.T) {
	s := newTestStream(1)

	tests := []struct {
		mime     string
		wantMime string
		wantErr  bool
	}{
		{"", "audio/L16;rate=48000;channels=1", false},
		{"audio/L16", "audio/L16;rate=48000;channels=1", false},
		{"audio/wav", MimeWAV, false},
		{"audio/x-wav", MimeWAV, false},
		{"audio/webm;codecs=opus", "", true},
	}

	for _, tt := range tests {
		enc, err := NewEncoder(s, EncoderOptions{MimeType: tt.mime})
		if tt.wantErr {
			if !errors.Is(err, ErrEncoderConstruction) {
				t.Errorf("NewEncoder(%q): expected ErrEncoderConstruction, got %v", tt.mime, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewEncoder(%q) failed: %v", tt.mime, err)
			continue
		}
		if enc.MimeType() != tt.wantMime {
			t.Errorf("NewEncoder(%q).MimeType() = %q, want %q", tt.mime, enc.MimeType(), tt.wantMime)
		}
		if enc.State() != EncoderInactive {
			t.Errorf("Expected new encoder to be inactive, got %s", enc.State())
		}
	}
}

func TestPCMEncoder_SingleChunkAtStop(t *testing.T) {
	s := newTestStream(1)
	enc, _ := NewEncoder(s, EncoderOptions{})
	sink := attachSink(enc)

	if err := enc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if enc.State() != EncoderRecording {
		t.Errorf("Expected recording state, got %s", enc.State())
	}

	s.publish(int16ToBytes([]int16{1, 2}))
	s.publish(int16ToBytes([]int16{3}))

	if err := enc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	chunks := sink.wait(t)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	// network byte order
	if want := []byte{0, 1, 0, 2, 0, 3}; !bytes.Equal(chunks[0], want) {
		t.Errorf("Unexpected payload %v, want %v", chunks[0], want)
	}
}

func TestPCMEncoder_EmptySessionEmitsNothing(t *testing.T) {
	s := newTestStream(1)
	enc, _ := NewEncoder(s, EncoderOptions{})
	sink := attachSink(enc)

	enc.Start()
	enc.Stop()

	if chunks := sink.wait(t); len(chunks) != 0 {
		t.Errorf("Expected no chunks, got %d", len(chunks))
	}
}

func TestPCMEncoder_Timeslice(t *testing.T) {
	s := newTestStream(1)
	enc, _ := NewEncoder(s, EncoderOptions{Timeslice: 10 * time.Millisecond})
	sink := attachSink(enc)

	enc.Start()
	s.publish(int16ToBytes([]int16{1}))
	time.Sleep(50 * time.Millisecond)
	s.publish(int16ToBytes([]int16{2}))
	enc.Stop()

	chunks := sink.wait(t)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), toBigEndian(int16ToBytes([]int16{1, 2}))) {
		t.Errorf("Chunks do not concatenate to the stream")
	}
}

func TestEncoder_InvalidState(t *testing.T) {
	s := newTestStream(1)
	for _, mime := range []string{MimeL16, MimeWAV} {
		enc, _ := NewEncoder(s, EncoderOptions{MimeType: mime})
		sink := attachSink(enc)

		if err := enc.Stop(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: expected ErrInvalidState stopping an inactive encoder, got %v", mime, err)
		}
		if err := enc.Start(); err != nil {
			t.Fatalf("%s: Start failed: %v", mime, err)
		}
		if err := enc.Start(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: expected ErrInvalidState on second Start, got %v", mime, err)
		}
		enc.Stop()
		sink.wait(t)
	}
}

func TestWAVEncoder_ProducesDecodableFile(t *testing.T) {
	s := newPCMStream(Format{SampleRate: 16000, Channels: 2}, Constraints{})
	enc, _ := NewEncoder(s, EncoderOptions{MimeType: MimeWAV})
	sink := attachSink(enc)

	enc.Start()
	s.publish(int16ToBytes([]int16{100, -100, 200, -200}))
	enc.Stop()

	chunks := sink.wait(t)
	if len(chunks) != 1 {
		t.Fatalf("Expected a single chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(string(chunks[0]), "RIFF") {
		t.Fatalf("Expected RIFF header, got %q", chunks[0][:4])
	}

	dec := wav.NewDecoder(bytes.NewReader(chunks[0]))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode wav: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("Unexpected format %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	want := []int{100, -100, 200, -200}
	if len(buf.Data) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVEncoder_EmptySessionIsHeaderOnly(t *testing.T) {
	s := newTestStream(1)
	enc, _ := NewEncoder(s, EncoderOptions{MimeType: MimeWAV})
	sink := attachSink(enc)

	enc.Start()
	enc.Stop()

	chunks := sink.wait(t)
	if len(chunks) != 1 {
		t.Fatalf("Expected header chunk, got %d chunks", len(chunks))
	}
	if len(chunks[0]) != 44 {
		t.Errorf("Expected 44-byte header, got %d bytes", len(chunks[0]))
	}
}

// sinkRecorder remembers every subscriber, like a publish that copied the sink list
type sinkRecorder struct {
	*pcmStream
	mu  sync.Mutex
	fns []func([]byte)
}

func (s *sinkRecorder) Subscribe(fn func([]byte)) func() {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
	return s.pcmStream.Subscribe(fn)
}

func (s *sinkRecorder) first() func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fns[0]
}

func TestPCMEncoder_LateBlockAfterStop(t *testing.T) {
	s := &sinkRecorder{pcmStream: newTestStream(1)}
	enc, _ := NewEncoder(s, EncoderOptions{})

	first := attachSink(enc)
	enc.Start()
	s.publish(int16ToBytes([]int16{1}))
	enc.Stop()
	if chunks := first.wait(t); len(chunks) != 1 || !bytes.Equal(chunks[0], []byte{0, 1}) {
		t.Fatalf("Unexpected first session %v", chunks)
	}

	second := attachSink(enc)
	enc.Start()
	// a block delivered to the first session's subscriber after it unsubscribed
	s.first()(int16ToBytes([]int16{9}))
	s.publish(int16ToBytes([]int16{2}))
	enc.Stop()

	chunks := second.wait(t)
	if len(chunks) != 1 || !bytes.Equal(chunks[0], []byte{0, 2}) {
		t.Errorf("Expected only second session audio, got %v", chunks)
	}
}
