package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/recorder"
)

func newToneService(t *testing.T, mutate func(*config.Config)) Service {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.Backend = "tone"
	cfg.Audio.Source = "sine:1000"
	cfg.Output.Directory = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := NewWithBackend(cfg, "", &audio.ToneBackend{})
	if err != nil {
		t.Fatalf("NewWithBackend failed: %v", err)
	}
	t.Cleanup(svc.Release)
	return svc
}

func record(t *testing.T, svc Service, d time.Duration) *recorder.Artifact {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	time.Sleep(d)

	artifact, err := svc.StopRecording(ctx)
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	return artifact
}

func TestService_RecordWAV(t *testing.T) {
	svc := newToneService(t, nil)

	if got := svc.GetStatus().State; got != recorder.StateUninitialized {
		t.Errorf("Expected UNINITIALIZED before first start, got %s", got)
	}

	artifact := record(t, svc, 120*time.Millisecond)

	if artifact.MimeType != audio.MimeWAV {
		t.Errorf("Expected %s artifact, got %s", audio.MimeWAV, artifact.MimeType)
	}
	if !bytes.HasPrefix(artifact.Data, []byte("RIFF")) {
		t.Errorf("Expected a RIFF header, got % x", artifact.Data[:min(4, len(artifact.Data))])
	}
	if artifact.Size() <= 44 {
		t.Errorf("Expected audio after the header, got %d bytes", artifact.Size())
	}

	status := svc.GetStatus()
	if status.State != recorder.StateReady {
		t.Errorf("Expected READY after stop, got %s", status.State)
	}
	if status.Backend != "tone" {
		t.Errorf("Expected tone backend, got %s", status.Backend)
	}
	if status.LastArtifact == nil || status.LastArtifact.ID != artifact.ID.String() {
		t.Errorf("Expected last artifact to be %s, got %+v", artifact.ID, status.LastArtifact)
	}
	if status.Viewers != 0 {
		t.Errorf("Expected no viewers, got %d", status.Viewers)
	}
}

func TestService_RecordL16(t *testing.T) {
	svc := newToneService(t, func(cfg *config.Config) {
		cfg.Encoder.PreferredFormat = "audio/L16"
		cfg.Encoder.TimesliceMs = 20
	})

	artifact := record(t, svc, 120*time.Millisecond)

	if !strings.HasPrefix(artifact.MimeType, "audio/L16;rate=48000") {
		t.Errorf("Unexpected mime type %s", artifact.MimeType)
	}
	if artifact.Size()%2 != 0 || artifact.Size() == 0 {
		t.Errorf("Expected whole 16-bit samples, got %d bytes", artifact.Size())
	}
	if artifact.Chunks < 2 {
		t.Errorf("Expected timesliced chunks, got %d", artifact.Chunks)
	}
}

func TestService_FixedMimeType(t *testing.T) {
	svc := newToneService(t, func(cfg *config.Config) {
		cfg.Output.FixedMimeType = "audio/x-custom"
	})

	artifact := record(t, svc, 50*time.Millisecond)
	if artifact.MimeType != "audio/x-custom" {
		t.Errorf("Expected fixed mime type, got %s", artifact.MimeType)
	}
}

func TestService_StartTwice(t *testing.T) {
	svc := newToneService(t, nil)
	ctx := context.Background()

	if err := svc.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := svc.StartRecording(ctx); err == nil {
		t.Error("Expected error starting while recording")
	}
	if _, err := svc.StopRecording(ctx); err != nil {
		t.Errorf("StopRecording failed: %v", err)
	}
}

func TestService_StopWithoutRecording(t *testing.T) {
	svc := newToneService(t, nil)

	_, err := svc.StopRecording(context.Background())
	if !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestService_StartFailureSetsLastError(t *testing.T) {
	svc := newToneService(t, func(cfg *config.Config) {
		cfg.Audio.Source = "square:440"
	})

	err := svc.StartRecording(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if svc.GetLastError() == "" {
		t.Error("Expected last error to be recorded")
	}
	if got := svc.GetStatus().State; got != recorder.StateUninitialized {
		t.Errorf("Expected UNINITIALIZED after failure, got %s", got)
	}
}

func TestService_ReleaseAndRestart(t *testing.T) {
	svc := newToneService(t, nil)

	record(t, svc, 30*time.Millisecond)
	svc.Release()

	if got := svc.GetStatus().State; got != recorder.StateUninitialized {
		t.Errorf("Expected UNINITIALIZED after release, got %s", got)
	}

	artifact := record(t, svc, 30*time.Millisecond)
	if artifact.Size() == 0 {
		t.Error("Expected data after reopening the microphone")
	}
}

func TestService_SaveAndList(t *testing.T) {
	svc := newToneService(t, nil)
	artifact := record(t, svc, 50*time.Millisecond)

	path, err := svc.SaveArtifact("My take #1!", artifact)
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if filepath.Base(path) != "My_take_1.wav" {
		t.Errorf("Unexpected file name %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(data, artifact.Data) {
		t.Error("Saved file does not match artifact data")
	}

	if got := svc.GetStatus().LastArtifact; got == nil || got.Path != path {
		t.Errorf("Expected last artifact path %s, got %+v", path, got)
	}

	// ignored by the listing
	os.WriteFile(filepath.Join(svc.GetConfig().Output.Directory, "notes.txt"), []byte("x"), 0644)

	recordings, err := svc.ListRecordings()
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recordings) != 1 {
		t.Fatalf("Expected 1 recording, got %d", len(recordings))
	}
	if recordings[0].Name != "My_take_1.wav" || recordings[0].Extension != "wav" {
		t.Errorf("Unexpected recording %+v", recordings[0])
	}
}

func TestService_SaveDefaultName(t *testing.T) {
	svc := newToneService(t, nil)
	artifact := record(t, svc, 30*time.Millisecond)

	path, err := svc.SaveArtifact("???", artifact)
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "recording_") {
		t.Errorf("Expected generated name, got %s", filepath.Base(path))
	}
}

func TestService_ListMissingDirectory(t *testing.T) {
	svc := newToneService(t, func(cfg *config.Config) {
		cfg.Output.Directory = filepath.Join(cfg.Output.Directory, "missing")
	})

	recordings, err := svc.ListRecordings()
	if err != nil || len(recordings) != 0 {
		t.Errorf("Expected empty listing, got %v, %v", recordings, err)
	}
}

func TestService_Waveform(t *testing.T) {
	on := newToneService(t, nil)
	if on.Waveform() == nil {
		t.Error("Expected a waveform surface when the visualizer is enabled")
	}

	off := newToneService(t, func(cfg *config.Config) {
		disabled := false
		cfg.Visualizer.Enabled = &disabled
	})
	if off.Waveform() != nil {
		t.Error("Expected no waveform surface when the visualizer is disabled")
	}
}

func TestService_LoadProfile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "voicecapture.yaml")
	content := `active_config: default
configs:
  default:
    audio:
      backend: tone
    output:
      directory: ` + dir + `
  telephone:
    audio:
      sample_rate: 8000
    encoder:
      preferred_format: audio/L16
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.LoadWithProfile(configFile, "", false)
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	svc, err := New(cfg, configFile)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer svc.Release()

	if err := svc.LoadProfile("telephone"); err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	got := svc.GetConfig()
	if got.Profile != "telephone" || got.Audio.SampleRate != 8000 {
		t.Errorf("Unexpected config after profile switch: %+v", got)
	}

	artifact := record(t, svc, 50*time.Millisecond)
	if !strings.HasPrefix(artifact.MimeType, "audio/L16;rate=8000") {
		t.Errorf("Expected 8kHz L16 artifact, got %s", artifact.MimeType)
	}

	if err := svc.LoadProfile("missing"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestService_LoadProfileWhileRecording(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "voicecapture.yaml")
	os.WriteFile(configFile, []byte("configs:\n  default:\n    audio:\n      backend: tone\n"), 0644)

	svc := newToneService(t, nil)
	svc.(*VoiceCaptureService).configFile = configFile

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := svc.LoadProfile("default"); err == nil {
		t.Error("Expected profile switch to be refused while recording")
	}
	svc.StopRecording(context.Background())
}

func TestService_StartRacesProfileSwitch(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "voicecapture.yaml")
	os.WriteFile(configFile, []byte("configs:\n  default:\n    audio:\n      backend: tone\n"), 0644)

	for i := 0; i < 20; i++ {
		svc := newToneService(t, nil)
		svc.(*VoiceCaptureService).configFile = configFile

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.StartRecording(context.Background())
		}()
		go func() {
			defer wg.Done()
			svc.LoadProfile("default")
		}()
		wg.Wait()

		// whichever ran first, the started session must survive
		if got := svc.GetStatus().State; got != recorder.StateRecording {
			t.Fatalf("iteration %d: expected RECORDING, got %s", i, got)
		}
		if _, err := svc.StopRecording(context.Background()); err != nil {
			t.Fatalf("iteration %d: StopRecording failed: %v", i, err)
		}
	}
}

func TestWidgetOptions_ProcessingSwitches(t *testing.T) {
	cfg := config.Default()

	opts, err := WidgetOptions(cfg, &audio.ToneBackend{})
	if err != nil {
		t.Fatalf("WidgetOptions failed: %v", err)
	}
	if opts.DisableEchoCancellation || opts.DisableNoiseSuppression || opts.DisableAutoGainControl {
		t.Errorf("Expected all processing requested by default, got %+v", opts)
	}

	off := false
	cfg.Audio.NoiseSuppression = &off
	cfg.Audio.AutoGainControl = &off

	opts, err = WidgetOptions(cfg, &audio.ToneBackend{})
	if err != nil {
		t.Fatalf("WidgetOptions failed: %v", err)
	}
	if opts.DisableEchoCancellation {
		t.Error("Expected echo cancellation to stay requested")
	}
	if !opts.DisableNoiseSuppression || !opts.DisableAutoGainControl {
		t.Errorf("Expected explicit false to disable processing, got %+v", opts)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"audio/wav":                       "wav",
		"audio/x-wav":                     "wav",
		"audio/L16;rate=48000;channels=1": "pcm",
		" AUDIO/WAVE ":                    "wav",
		"audio/webm;codecs=opus":          "bin",
		"":                                "bin",
	}
	for mime, want := range tests {
		if got := Extension(mime); got != want {
			t.Errorf("Extension(%q) = %s, want %s", mime, got, want)
		}
	}
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"My Song":        "My_Song",
		"  spaced out  ": "spaced_out",
		"a/b\\c:d":       "abcd",
		"":               "",
	}
	for in, want := range tests {
		if got := CleanFileName(in); got != want {
			t.Errorf("CleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		1024:            "1.0 KB",
		1536:            "1.5 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestService_ListSources(t *testing.T) {
	svc := newToneService(t, nil)

	sources, err := svc.ListSources()
	if err != nil {
		t.Fatalf("ListSources failed: %v", err)
	}
	if len(sources) == 0 || sources[0] != "silence" {
		t.Errorf("Unexpected tone sources %v", sources)
	}
}
