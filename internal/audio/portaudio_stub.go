//go:build !portaudio

package audio

import "context"

const portAudioAvailable = false

// PortAudioBackend is not compiled into this binary; build with -tags portaudio
type PortAudioBackend struct {
	graph
}

func (p *PortAudioBackend) Type() BackendType { return BackendTypePortAudio }

func (p *PortAudioBackend) ListSources() ([]string, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *PortAudioBackend) ValidateSource(string) error {
	return ErrUnsupportedPlatform
}

func (p *PortAudioBackend) RequestStream(context.Context, Constraints) (Stream, error) {
	return nil, ErrUnsupportedPlatform
}
