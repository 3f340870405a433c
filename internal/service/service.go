package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/recorder"
	"github.com/audiolibrelab/voicecapture/internal/visual"
)

const (
	// virtual canvas streamed to waveform subscribers
	canvasWidth  = 600
	canvasHeight = 120
)

// ErrNotRecording is returned by StopRecording when no session is active
var ErrNotRecording = errors.New("not recording")

// Service is the voicecapture service interface shared by the CLI and the HTTP server
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*recorder.Artifact, error)
	Release()
	GetStatus() Status

	// Artifact operations
	SaveArtifact(name string, artifact *recorder.Artifact) (string, error)
	ListRecordings() ([]RecordingInfo, error)

	// Configuration operations
	ListSources() ([]string, error)
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Waveform returns the surface remote viewers subscribe to, or nil when visualization is off
	Waveform() *visual.SocketSurface
	GetLastError() string
}

// Status is a snapshot of the widget for status endpoints
type Status struct {
	State        recorder.State `json:"state"`
	Profile      string         `json:"profile"`
	Backend      string         `json:"backend"`
	MimeType     string         `json:"mime_type,omitempty"`
	Level        audio.Level    `json:"level"`
	LastError    string         `json:"last_error,omitempty"`
	LastArtifact *ArtifactInfo  `json:"last_artifact,omitempty"`
	Viewers      int            `json:"viewers"`
}

// ArtifactInfo describes a finished recording without its payload
type ArtifactInfo struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	SizeHuman string    `json:"size_human"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path,omitempty"`
}

// RecordingInfo describes a saved recording in the output directory
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
}

// VoiceCaptureService owns one recorder widget built from the active profile
type VoiceCaptureService struct {
	op         sync.Mutex // serializes recording operations and profile switches
	mu         sync.RWMutex
	cfg        *config.Config
	configFile string
	backend    audio.Backend
	widget     *recorder.Widget
	waveform   *visual.SocketSurface
	last       *ArtifactInfo

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service using the backend named in the configuration
func New(cfg *config.Config, configFile string) (Service, error) {
	backend, err := audio.NewBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, configFile, backend)
}

// NewWithBackend creates a service around an explicit backend
func NewWithBackend(cfg *config.Config, configFile string, backend audio.Backend) (Service, error) {
	s := &VoiceCaptureService{
		cfg:        cfg,
		configFile: configFile,
		backend:    backend,
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

// WidgetOptions translates a configuration into widget options.
// Surface and Host are left for the caller.
func WidgetOptions(cfg *config.Config, backend audio.Backend) (recorder.Options, error) {
	background, err := visual.ParseColor(cfg.Visualizer.Background)
	if err != nil {
		return recorder.Options{}, fmt.Errorf("visualizer.background: %w", err)
	}
	stroke, err := visual.ParseColor(cfg.Visualizer.Stroke)
	if err != nil {
		return recorder.Options{}, fmt.Errorf("visualizer.stroke: %w", err)
	}

	frameRate := cfg.Visualizer.FrameRate
	return recorder.Options{
		Backend:     backend,
		Constraints: audio.ConstraintsFromConfig(cfg),
		Encoder: audio.EncoderOptions{
			MimeType:  cfg.Encoder.PreferredFormat,
			Timeslice: time.Duration(cfg.Encoder.TimesliceMs) * time.Millisecond,
		},
		DisableEchoCancellation: !cfg.Audio.EchoCancellationEnabled(),
		DisableNoiseSuppression: !cfg.Audio.NoiseSuppressionEnabled(),
		DisableAutoGainControl:  !cfg.Audio.AutoGainControlEnabled(),
		FixedMimeType:           cfg.Output.FixedMimeType,
		FFTSize:                 cfg.Visualizer.FFTSize,
		NewClock:                func() visual.FrameClock { return visual.NewTickerClock(frameRate) },
		Background:              background,
		Stroke:                  visual.Stroke{Color: stroke, Width: cfg.Visualizer.LineWidth},
	}, nil
}

func (s *VoiceCaptureService) build() error {
	opts, err := WidgetOptions(s.cfg, s.backend)
	if err != nil {
		return err
	}

	s.waveform = nil
	if s.cfg.Visualizer.IsEnabled() {
		s.waveform = visual.NewSocketSurface(canvasWidth, canvasHeight)
		opts.Surface = s.waveform
	}
	opts.Notifier = recorder.NotifierFunc(s.setLastError)

	s.widget = recorder.New(opts)
	return nil
}

func (s *VoiceCaptureService) current() (*recorder.Widget, *config.Config) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.widget, s.cfg
}

// StartRecording initializes the microphone if needed and starts a session
func (s *VoiceCaptureService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.op.Lock()
	defer s.op.Unlock()

	widget, _ := s.current()

	if widget.State() == recorder.StateRecording {
		return fmt.Errorf("already recording")
	}

	s.clearLastError()
	if !widget.Start(ctx) {
		err := widget.LastError()
		if err == nil {
			err = errors.New("recorder refused to start")
		}
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording finalizes the session and returns the artifact
func (s *VoiceCaptureService) StopRecording(ctx context.Context) (*recorder.Artifact, error) {
	s.op.Lock()
	defer s.op.Unlock()

	widget, _ := s.current()

	artifact, err := widget.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	if artifact == nil {
		return nil, ErrNotRecording
	}

	s.clearLastError()
	s.mu.Lock()
	s.last = describe(artifact, "")
	s.mu.Unlock()
	return artifact, nil
}

// Release closes the microphone; the next StartRecording reopens it
func (s *VoiceCaptureService) Release() {
	s.op.Lock()
	defer s.op.Unlock()

	widget, _ := s.current()
	widget.Release()
}

// GetStatus returns the current widget status
func (s *VoiceCaptureService) GetStatus() Status {
	s.mu.RLock()
	widget, cfg, last, waveform, backend := s.widget, s.cfg, s.last, s.waveform, s.backend
	s.mu.RUnlock()

	status := Status{
		State:        widget.State(),
		Profile:      cfg.Profile,
		Backend:      string(backend.Type()),
		MimeType:     widget.MimeType(),
		Level:        widget.Level(),
		LastError:    s.GetLastError(),
		LastArtifact: last,
	}
	if waveform != nil {
		status.Viewers = waveform.Clients()
	}
	return status
}

// SaveArtifact writes the artifact into the output directory as <clean name>.<ext>
func (s *VoiceCaptureService) SaveArtifact(name string, artifact *recorder.Artifact) (string, error) {
	_, cfg := s.current()

	path, err := WriteArtifact(cfg.Output.Directory, name, artifact)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.last != nil && s.last.ID == artifact.ID.String() {
		s.last.Path = path
	}
	s.mu.Unlock()
	return path, nil
}

// WriteArtifact stores an artifact as dir/<clean name>.<ext>.
// An empty clean name falls back to a timestamp.
func WriteArtifact(dir, name string, artifact *recorder.Artifact) (string, error) {
	cleanName := CleanFileName(name)
	if cleanName == "" {
		cleanName = "recording_" + artifact.CreatedAt.Format("20060102_150405")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, cleanName+"."+Extension(artifact.MimeType))
	if err := os.WriteFile(path, artifact.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}

	slog.Info("Recording saved", "path", path, "size", FormatBytes(int64(artifact.Size())))
	return path, nil
}

// ListRecordings returns saved recordings, newest first
func (s *VoiceCaptureService) ListRecordings() ([]RecordingInfo, error) {
	_, cfg := s.current()
	return ListRecordingsIn(cfg.Output.Directory)
}

// ListRecordingsIn returns the recordings saved in dir, newest first
func ListRecordingsIn(dir string) ([]RecordingInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	supportedExts := map[string]bool{".wav": true, ".pcm": true}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !supportedExts[ext] {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    FormatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// ListSources returns the capture sources the active backend can open
func (s *VoiceCaptureService) ListSources() ([]string, error) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()
	return backend.ListSources()
}

// LoadProfile releases the current widget and rebuilds it from another profile
func (s *VoiceCaptureService) LoadProfile(profile string) error {
	s.op.Lock()
	defer s.op.Unlock()

	newCfg, err := config.LoadWithProfile(s.configFile, profile, false)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	backend, err := audio.NewBackend(newCfg.Audio.Backend)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.widget.State() == recorder.StateRecording {
		return fmt.Errorf("cannot switch profile while recording")
	}

	old := s.widget
	prevCfg, prevBackend := s.cfg, s.backend
	s.cfg, s.backend = newCfg, backend
	if err := s.build(); err != nil {
		s.cfg, s.backend, s.widget = prevCfg, prevBackend, old
		return err
	}
	old.Release()

	slog.Info("Profile loaded", "profile", newCfg.Profile, "backend", backend.Type())
	return nil
}

// GetConfig returns the current configuration
func (s *VoiceCaptureService) GetConfig() *config.Config {
	_, cfg := s.current()
	return cfg
}

// Waveform returns the websocket surface
func (s *VoiceCaptureService) Waveform() *visual.SocketSurface {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waveform
}

// GetLastError returns the last error message (thread-safe)
func (s *VoiceCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *VoiceCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *VoiceCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// Extension maps an artifact media type to a file extension
func Extension(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "wav"
	case "audio/l16":
		return "pcm"
	default:
		return "bin"
	}
}

func describe(a *recorder.Artifact, path string) *ArtifactInfo {
	return &ArtifactInfo{
		ID:        a.ID.String(),
		MimeType:  a.MimeType,
		Size:      a.Size(),
		SizeHuman: FormatBytes(int64(a.Size())),
		Chunks:    a.Chunks,
		CreatedAt: a.CreatedAt,
		Path:      path,
	}
}

// CleanFileName keeps letters, digits, spaces, hyphens and underscores, then replaces spaces with underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
