package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/recorder"
	"github.com/audiolibrelab/voicecapture/internal/service"
	"github.com/audiolibrelab/voicecapture/internal/visual"

	"github.com/spf13/cobra"
)

const (
	statusInterval = 200 * time.Millisecond
	stopTimeout    = 10 * time.Second
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record the microphone with a live waveform",
	Long: `Record the microphone and draw its waveform in the terminal until Enter,
Escape or Ctrl+C is pressed. The recording is saved in the output directory
as <name>.wav (or .pcm for raw L16 sessions).

With --embedded, host messages such as the microphone permission request
are written to stdout, one per line, for a wrapping shell to act on.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		slog.Debug("Record command started", "name", name)

		runCfg, err := applyRecordFlags(cmd, cfg)
		if err != nil {
			return err
		}

		backend, err := audio.NewBackend(runCfg.Audio.Backend)
		if err != nil {
			return err
		}

		opts, err := service.WidgetOptions(runCfg, backend)
		if err != nil {
			return err
		}

		embedded, _ := cmd.Flags().GetBool("embedded")
		noVisual, _ := cmd.Flags().GetBool("no-visual")
		duration, _ := cmd.Flags().GetDuration("duration")

		if embedded {
			opts.Host = recorder.NewLineHost(os.Stdout)
		}

		var surface *visual.TerminalSurface
		logs := &syncBuffer{}
		if !noVisual && runCfg.Visualizer.IsEnabled() {
			surface, err = visual.NewTerminalSurface()
			if err != nil {
				slog.Warn("Terminal not available, recording without waveform", "error", err)
				surface = nil
			} else {
				// keep log lines off the drawing area until the terminal is restored
				setupLoggingTo(verboseLevel, logs)
				opts.Surface = surface
			}
		}

		closeSurface := func() {
			if surface == nil {
				return
			}
			surface.Close()
			surface = nil
			setupLogging(verboseLevel)
			os.Stderr.Write(logs.Bytes())
		}
		defer closeSurface()

		widget := recorder.New(opts)
		defer widget.Release()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if !widget.Start(ctx) {
			closeSurface()
			if err := widget.LastError(); err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}
			return errors.New("failed to start recording")
		}

		var stop <-chan struct{}
		if surface != nil {
			stop = surface.WaitForStop()
		} else if duration == 0 {
			stop = waitForEnter(os.Stdin)
			if !embedded {
				fmt.Println("Recording... Press Enter or Ctrl+C to stop")
			}
		}

		var deadline <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			deadline = timer.C
		}

		started := time.Now()
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-ctx.Done():
				break wait
			case <-stop:
				break wait
			case <-deadline:
				break wait
			case <-ticker.C:
				if surface != nil {
					surface.SetStatus(statusLine(widget.Level(), time.Since(started)))
				}
			}
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()

		artifact, err := widget.Stop(stopCtx)
		closeSurface()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if artifact == nil {
			return errors.New("recording was not active")
		}

		path, err := service.WriteArtifact(runCfg.Output.Directory, name, artifact)
		if err != nil {
			return err
		}

		if !embedded {
			fmt.Printf("Saved %s (%s, %s, %s)\n", path, artifact.MimeType,
				time.Since(started).Round(100*time.Millisecond), service.FormatBytes(int64(artifact.Size())))
		}
		return nil
	},
}

func init() {
	addRecordFlags(recordCmd)
}

func addRecordFlags(c *cobra.Command) {
	c.Flags().StringP("output", "o", "", "output directory (overrides config)")
	c.Flags().String("backend", "", "audio backend (overrides config)")
	c.Flags().String("source", "", "capture source (overrides config)")
	c.Flags().Duration("duration", 0, "stop automatically after this duration")
	c.Flags().Bool("no-visual", false, "record without drawing the waveform")
	c.Flags().Bool("embedded", false, "write host messages to stdout for a wrapping shell")
}

// applyRecordFlags returns a copy of base with command line overrides applied
func applyRecordFlags(cmd *cobra.Command, base *config.Config) (*config.Config, error) {
	runCfg := *base

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		runCfg.Output.Directory = output
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		runCfg.Audio.Backend = backend
	}
	if source, _ := cmd.Flags().GetString("source"); source != "" {
		runCfg.Audio.Source = source
	}

	if err := config.Validate(&runCfg); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return &runCfg, nil
}

func statusLine(level audio.Level, elapsed time.Duration) string {
	clip := ""
	if level.Clip > 0 {
		clip = "  CLIP"
	}
	return fmt.Sprintf(" ● REC %s  rms %6.1f dBFS  peak %6.1f dBFS%s   [Enter] stop",
		elapsed.Truncate(time.Second), level.RMS, level.Peak, clip)
}

// waitForEnter closes the returned channel on the first line or EOF from r
func waitForEnter(r io.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bufio.NewScanner(r).Scan()
	}()
	return done
}

// syncBuffer holds log output while the terminal is in drawing mode
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
