package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
active_config: studio

configs:
  default:
    audio:
      backend: pulse
      sample_rate: 44100
    output:
      directory: /tmp/voicecapture-test

  studio:
    audio:
      channels: 2
      noise_suppression: false
    encoder:
      preferred_format: audio/L16
      timeslice_ms: 250
    visualizer:
      stroke: "#112233"
`

func TestLoadWithProfile_ActiveProfile(t *testing.T) {
	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Profile != "studio" {
		t.Errorf("Expected profile 'studio', got %s", cfg.Profile)
	}
	if cfg.Audio.Backend != "pulse" {
		t.Errorf("Expected backend 'pulse' from default profile, got %s", cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.NoiseSuppressionEnabled() {
		t.Error("Expected noise suppression disabled by studio profile")
	}
	if !cfg.Audio.EchoCancellationEnabled() {
		t.Error("Expected echo cancellation enabled by default")
	}
	if cfg.Encoder.PreferredFormat != "audio/L16" || cfg.Encoder.TimesliceMs != 250 {
		t.Errorf("Unexpected encoder config: %+v", cfg.Encoder)
	}
	if cfg.Visualizer.Stroke != "#112233" {
		t.Errorf("Expected stroke '#112233', got %s", cfg.Visualizer.Stroke)
	}
	if cfg.Output.Directory != "/tmp/voicecapture-test" {
		t.Errorf("Expected directory from default profile, got %s", cfg.Output.Directory)
	}

	if cfg.Inheritance["audio.backend"] != Inherited {
		t.Errorf("Expected backend inherited, got %s", cfg.Inheritance["audio.backend"])
	}
	if cfg.Inheritance["audio.channels"] != ProfileSpecific {
		t.Errorf("Expected channels profile-specific, got %s", cfg.Inheritance["audio.channels"])
	}
}

func TestLoadWithProfile_ExplicitProfileOverridesActive(t *testing.T) {
	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "default", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Profile != "default" {
		t.Errorf("Expected profile 'default', got %s", cfg.Profile)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Expected built-in mono, got %d channels", cfg.Audio.Channels)
	}
	if cfg.Encoder.PreferredFormat != "audio/wav" {
		t.Errorf("Expected built-in preferred format, got %s", cfg.Encoder.PreferredFormat)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "podcast", false)
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "'podcast' not found") {
		t.Errorf("Expected 'not found' error, got: %v", err)
	}
}

func TestLoadWithProfile_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadWithProfile(missing, "", true)
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}
	if cfg.Visualizer.FFTSize != 2048 {
		t.Errorf("Expected default fft size, got %d", cfg.Visualizer.FFTSize)
	}

	if _, err := LoadWithProfile(missing, "", false); err == nil {
		t.Error("Expected error for missing file when defaults are not allowed")
	}
}

func TestValidateConfigurationFormat_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no configs",
			content: "active_config: default\n",
			wantErr: "configs section is required",
		},
		{
			name: "unknown backend",
			content: `
configs:
  default:
    audio:
      backend: jack
`,
			wantErr: "unknown audio.backend",
		},
		{
			name: "unknown format",
			content: `
configs:
  default:
    encoder:
      preferred_format: audio/webm
`,
			wantErr: "unknown encoder.preferred_format",
		},
		{
			name: "active config undefined",
			content: `
active_config: live
configs:
  default:
    audio:
      backend: tone
`,
			wantErr: "active_config 'live'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.content)
			defer os.Remove(configFile)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadWithProfile_ResolvedValuesValidated(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    visualizer:
      fft_size: 1000
`)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "", false)
	if err == nil || !strings.Contains(err.Error(), "visualizer.fft_size") {
		t.Errorf("Expected fft_size validation error, got: %v", err)
	}
}

func TestUpdateActiveConfigAndListProfiles(t *testing.T) {
	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	if err := UpdateActiveConfig(configFile, "default"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	names, active, err := ListProfiles(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if active != "default" {
		t.Errorf("Expected active profile 'default', got %s", active)
	}
	if len(names) != 2 || names[0] != "default" || names[1] != "studio" {
		t.Errorf("Expected [default studio], got %v", names)
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error when activating an undefined profile")
	}
}

func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "voicecapture-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
