package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
)

const pulseClientName = "voicecapture"

// PulseBackend captures through the native PulseAudio protocol, which pipewire-pulse also speaks
type PulseBackend struct {
	graph
}

// Type returns the backend type
func (p *PulseBackend) Type() BackendType {
	return BackendTypePulse
}

// ListSources returns the names of the server's sources
func (p *PulseBackend) ListSources() ([]string, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseClientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PulseAudio: %w", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.ID())
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSource checks that the named source exists
func (p *PulseBackend) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}

	names, err := p.ListSources()
	if err != nil {
		return err
	}
	return validatePortInList(source, names)
}

// RequestStream opens a record stream and waits for the first block of audio
func (p *PulseBackend) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseClientName))
	if err != nil {
		return nil, classifyPulseError(err)
	}

	source, err := p.pickSource(client, c)
	if err != nil {
		client.Close()
		return nil, err
	}

	stream := newPCMStream(Format{SampleRate: c.SampleRate, Channels: c.Channels}, c)

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(c.SampleRate),
		pulse.RecordSource(source),
		pulse.RecordMediaName("Microphone"),
		pulse.RecordLatency(0.05),
	}
	if c.Channels == 2 {
		opts = append(opts, pulse.RecordStereo)
	} else {
		opts = append(opts, pulse.RecordMono)
	}

	writer := pulse.Int16Writer(func(samples []int16) (int, error) {
		stream.publish(int16ToBytes(samples))
		return len(samples), nil
	})

	record, err := client.NewRecord(writer, opts...)
	if err != nil {
		client.Close()
		return nil, classifyPulseError(err)
	}

	var closeOnce sync.Once
	stream.setStopper(func() error {
		closeOnce.Do(func() {
			record.Stop()
			record.Close()
			client.Close()
		})
		return nil
	})

	record.Start()

	if err := stream.awaitFirstBlock(ctx); err != nil {
		if rerr := record.Error(); rerr != nil {
			return nil, classifyPulseError(rerr)
		}
		return nil, err
	}

	slog.Info("PulseAudio stream started", "source", source.ID(), "rate", c.SampleRate, "channels", c.Channels)
	return stream, nil
}

func (p *PulseBackend) pickSource(client *pulse.Client, c Constraints) (*pulse.Source, error) {
	if c.Source != "" && c.Source != "default" {
		source, err := client.SourceByID(c.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, c.Source, err)
		}
		return source, nil
	}

	if c.EchoCancellation {
		if sources, err := client.ListSources(); err == nil {
			for _, s := range sources {
				if strings.Contains(strings.ToLower(s.ID()), "echo-cancel") {
					return s, nil
				}
			}
		}
		slog.Debug("No echo-cancel source loaded, using default source")
	}

	source, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("%w: no default source: %v", ErrDeviceUnavailable, err)
	}
	return source, nil
}

func classifyPulseError(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such file"):
		return fmt.Errorf("%w: PulseAudio server not reachable: %v", ErrUnsupportedPlatform, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
