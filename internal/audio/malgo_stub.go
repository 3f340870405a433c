//go:build !malgo

package audio

import "context"

const malgoAvailable = false

// MalgoBackend is not compiled into this binary; build with -tags malgo
type MalgoBackend struct {
	graph
}

func (m *MalgoBackend) Type() BackendType { return BackendTypeMalgo }

func (m *MalgoBackend) ListSources() ([]string, error) {
	return nil, ErrUnsupportedPlatform
}

func (m *MalgoBackend) ValidateSource(string) error {
	return ErrUnsupportedPlatform
}

func (m *MalgoBackend) RequestStream(context.Context, Constraints) (Stream, error) {
	return nil, ErrUnsupportedPlatform
}
