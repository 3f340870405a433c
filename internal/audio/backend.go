package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypePulse     BackendType = "pulse"
	BackendTypeMalgo     BackendType = "malgo"
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeTone      BackendType = "tone"
	BackendTypeAuto      BackendType = "auto"
)

var (
	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupportedPlatform is returned when the capture API is missing.
	ErrUnsupportedPlatform = errors.New("audio capture is not supported on this platform")
	// ErrDeviceUnavailable is returned when the requested input device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrEncoderConstruction is returned when an encoder cannot be built for a stream.
	ErrEncoderConstruction = errors.New("encoder construction failed")
)

// Constraints describes the microphone stream a caller asks for
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
	Source           string
}

// ConstraintsFromConfig builds stream constraints from the audio section
func ConstraintsFromConfig(cfg *config.Config) Constraints {
	return Constraints{
		EchoCancellation: cfg.Audio.EchoCancellationEnabled(),
		NoiseSuppression: cfg.Audio.NoiseSuppressionEnabled(),
		AutoGainControl:  cfg.Audio.AutoGainControlEnabled(),
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		Source:           cfg.Audio.Source,
	}
}

// Backend is the platform capability set a recorder is built from
type Backend interface {
	// RequestStream asks for microphone access and blocks until audio flows
	RequestStream(ctx context.Context, c Constraints) (Stream, error)

	// CreateAnalyser attaches an analysis tap to the stream
	CreateAnalyser(stream Stream, fftSize int) (*Analyser, error)

	// CreateEncoder binds an encoder to the stream; an empty MimeType selects the default
	CreateEncoder(stream Stream, opts EncoderOptions) (Encoder, error)

	// List available audio sources
	ListSources() ([]string, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	Type() BackendType
}

// graph provides the platform-independent analyser and encoder constructors
type graph struct{}

func (graph) CreateAnalyser(stream Stream, fftSize int) (*Analyser, error) {
	return NewAnalyser(stream, fftSize)
}

func (graph) CreateEncoder(stream Stream, opts EncoderOptions) (Encoder, error) {
	return NewEncoder(stream, opts)
}

// NewBackend returns the backend named by the audio.backend setting
func NewBackend(name string) (Backend, error) {
	switch determineBackend(name) {
	case BackendTypePipeWire:
		return NewPipeWireBackend(), nil
	case BackendTypePulse:
		return &PulseBackend{}, nil
	case BackendTypeMalgo:
		return &MalgoBackend{}, nil
	case BackendTypePortAudio:
		return &PortAudioBackend{}, nil
	case BackendTypeTone:
		return &ToneBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnsupportedPlatform, name)
	}
}

// determineBackend resolves "auto" to a concrete backend
func determineBackend(name string) BackendType {
	switch strings.ToLower(name) {
	case "", "auto":
		if _, err := exec.LookPath("pw-record"); err == nil {
			return BackendTypePipeWire
		}
		return BackendTypePulse
	default:
		return BackendType(strings.ToLower(name))
	}
}

// GetAvailableBackends returns the backends compiled into this binary
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypePipeWire, BackendTypePulse, BackendTypeTone}
	if malgoAvailable {
		backends = append(backends, BackendTypeMalgo)
	}
	if portAudioAvailable {
		backends = append(backends, BackendTypePortAudio)
	}
	return backends
}
