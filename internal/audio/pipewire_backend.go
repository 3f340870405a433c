package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// frames per published block, about 21ms at 48kHz
	pipeWireBlockFrames = 1024
	stopTimeout         = 5 * time.Second
)

// PipeWireBackend captures through the pw-record tool
type PipeWireBackend struct {
	graph
	pipewire *PipeWire
}

// NewPipeWireBackend creates a backend bound to the local PipeWire daemon
func NewPipeWireBackend() *PipeWireBackend {
	return &PipeWireBackend{pipewire: NewPipeWire()}
}

// ListSources returns the capture ports of the graph
func (p *PipeWireBackend) ListSources() ([]string, error) {
	return p.pipewire.ListPorts()
}

// ValidateSource validates a PipeWire source port
func (p *PipeWireBackend) ValidateSource(source string) error {
	return p.pipewire.ValidatePort(source)
}

// Type returns the backend type
func (p *PipeWireBackend) Type() BackendType {
	return BackendTypePipeWire
}

// RequestStream starts pw-record and waits for the first block of audio
func (p *PipeWireBackend) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return nil, fmt.Errorf("%w: pw-record not found: %v", ErrUnsupportedPlatform, err)
	}

	if err := p.ValidateSource(c.Source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	args := p.recordArgs(c)
	slog.Debug("Starting pw-record", "args", strings.Join(args, " "))

	cmd := exec.Command("pw-record", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	proc := &recordProcess{cmd: cmd, exited: make(chan struct{})}
	cmd.Stderr = &proc.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start pw-record: %v", ErrDeviceUnavailable, err)
	}

	stream := newPCMStream(Format{SampleRate: c.SampleRate, Channels: c.Channels}, c)
	stream.setStopper(proc.stop)

	go func() {
		readErr := pump(stdout, stream, pipeWireBlockFrames)
		proc.waitErr = cmd.Wait()
		close(proc.exited)
		stream.fail(proc.classify(readErr))
	}()

	if err := stream.awaitFirstBlock(ctx); err != nil {
		return nil, err
	}

	slog.Info("PipeWire stream started", "rate", c.SampleRate, "channels", c.Channels, "source", c.Source)
	return stream, nil
}

func (p *PipeWireBackend) recordArgs(c Constraints) []string {
	args := []string{
		"--raw",
		"--format", "s16",
		"--rate", strconv.Itoa(c.SampleRate),
		"--channels", strconv.Itoa(c.Channels),
	}

	target := ""
	if c.Source != "" && c.Source != "default" {
		target = nodeName(c.Source)
	}

	if c.EchoCancellation {
		if target == "" {
			if node, ok := p.pipewire.echoCancelTarget(); ok {
				target = node
			} else {
				slog.Debug("No echo-cancel node loaded, requesting communication role only")
			}
		}
		args = append(args, "-P", `{ media.role = "Communication" }`)
	}

	if target != "" {
		args = append(args, "--target", target)
	}

	return append(args, "-")
}

// recordProcess owns one pw-record child
type recordProcess struct {
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	waitErr error
	exited  chan struct{}
}

// stop sends SIGINT and force kills when the process does not exit in time
func (r *recordProcess) stop() error {
	select {
	case <-r.exited:
		return nil
	default:
	}

	if r.cmd.Process != nil {
		slog.Debug("Sending SIGINT to pw-record process")
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to pw-record, falling back to SIGKILL", "error", err)
			r.cmd.Process.Kill()
		}
	}

	select {
	case <-r.exited:
		return nil
	case <-time.After(stopTimeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		r.cmd.Process.Kill()
		<-r.exited
		return nil
	}
}

// classify maps the exit of pw-record to the capture error taxonomy.
// Only valid once exited is closed.
func (r *recordProcess) classify(readErr error) error {
	msg := strings.TrimSpace(r.stderr.String())
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "not allowed") || strings.Contains(lower, "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case msg != "":
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
	}

	var exitErr *exec.ExitError
	if errors.As(r.waitErr, &exitErr) && exitErr.ExitCode() > 0 {
		return fmt.Errorf("%w: pw-record exited with code %d", ErrDeviceUnavailable, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, readErr)
}
