//go:build malgo

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

const malgoAvailable = true

// MalgoBackend captures through miniaudio, covering ALSA, CoreAudio and WASAPI
type MalgoBackend struct {
	graph
}

// Type returns the backend type
func (m *MalgoBackend) Type() BackendType {
	return BackendTypeMalgo
}

// ListSources returns the names of the capture devices
func (m *MalgoBackend) ListSources() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSource checks that a capture device with this name exists
func (m *MalgoBackend) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}

	names, err := m.ListSources()
	if err != nil {
		return err
	}
	return validatePortInList(source, names)
}

// RequestStream opens the capture device and waits for the first block of audio
func (m *MalgoBackend) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}

	release := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.Channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if c.Source != "" && c.Source != "default" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			release()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == c.Source {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			release()
			return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, c.Source)
		}
	}

	if c.EchoCancellation {
		slog.Debug("Echo cancellation is not available through miniaudio")
	}

	stream := newPCMStream(Format{SampleRate: c.SampleRate, Channels: c.Channels}, c)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.publish(input)
		},
		Stop: func() {
			// also fires from our own Uninit, which runs inside Stop
			go stream.fail(fmt.Errorf("%w: capture device stopped", ErrDeviceUnavailable))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		release()
		return nil, classifyMalgoError(err)
	}

	var once sync.Once
	stream.setStopper(func() error {
		once.Do(func() {
			device.Uninit()
			release()
		})
		return nil
	})

	if err := device.Start(); err != nil {
		stream.Stop()
		return nil, classifyMalgoError(err)
	}

	if err := stream.awaitFirstBlock(ctx); err != nil {
		return nil, err
	}

	slog.Info("miniaudio stream started", "rate", c.SampleRate, "channels", c.Channels, "source", c.Source)
	return stream, nil
}

func classifyMalgoError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
