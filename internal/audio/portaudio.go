//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	portAudioAvailable   = true
	portAudioBlockFrames = 1024
)

// PortAudioBackend captures through PortAudio
type PortAudioBackend struct {
	graph
}

// Type returns the backend type
func (p *PortAudioBackend) Type() BackendType {
	return BackendTypePortAudio
}

// ListSources returns the names of devices with input channels
func (p *PortAudioBackend) ListSources() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSource checks that an input device with this name exists
func (p *PortAudioBackend) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}

	names, err := p.ListSources()
	if err != nil {
		return err
	}
	return validatePortInList(source, names)
}

// RequestStream opens an input stream in callback mode and waits for the first block
func (p *PortAudioBackend) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}

	device, err := p.inputDevice(c.Source)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	if c.EchoCancellation {
		slog.Debug("Echo cancellation is not available through PortAudio")
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = c.Channels
	params.SampleRate = float64(c.SampleRate)
	params.FramesPerBuffer = portAudioBlockFrames

	stream := newPCMStream(Format{SampleRate: c.SampleRate, Channels: c.Channels}, c)

	pa, err := portaudio.OpenStream(params, func(in []int16) {
		stream.publish(int16ToBytes(in))
	})
	if err != nil {
		portaudio.Terminate()
		return nil, classifyPortAudioError(err)
	}

	var once sync.Once
	stream.setStopper(func() error {
		var stopErr error
		once.Do(func() {
			if err := pa.Stop(); err != nil {
				stopErr = err
			}
			if err := pa.Close(); err != nil && stopErr == nil {
				stopErr = err
			}
			portaudio.Terminate()
		})
		return stopErr
	})

	if err := pa.Start(); err != nil {
		stream.Stop()
		return nil, classifyPortAudioError(err)
	}

	if err := stream.awaitFirstBlock(ctx); err != nil {
		return nil, err
	}

	slog.Info("PortAudio stream started", "device", device.Name, "rate", c.SampleRate, "channels", c.Channels)
	return stream, nil
}

func (p *PortAudioBackend) inputDevice(source string) (*portaudio.DeviceInfo, error) {
	if source == "" || source == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == source && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, source)
}

func classifyPortAudioError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
