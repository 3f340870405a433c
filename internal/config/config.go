package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Inheritance markers used by the info command
const (
	Inherited       = "inherited"
	ProfileSpecific = "profile-specific"
	BuiltIn         = "built-in"
)

// DefaultProfile is the profile every other profile falls back to
const DefaultProfile = "default"

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Encoder    EncoderConfig    `mapstructure:"encoder" yaml:"encoder"`
	Visualizer VisualizerConfig `mapstructure:"visualizer" yaml:"visualizer"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`

	// Profile is the name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"` // "auto", "pipewire", "pulse", "malgo", "portaudio", "tone"
	SampleRate       int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels         int    `mapstructure:"channels" yaml:"channels"`
	Source           string `mapstructure:"source" yaml:"source"` // backend-specific device, empty = default
	EchoCancellation *bool  `mapstructure:"echo_cancellation" yaml:"echo_cancellation,omitempty"`
	NoiseSuppression *bool  `mapstructure:"noise_suppression" yaml:"noise_suppression,omitempty"`
	AutoGainControl  *bool  `mapstructure:"auto_gain_control" yaml:"auto_gain_control,omitempty"`
}

type EncoderConfig struct {
	PreferredFormat string `mapstructure:"preferred_format" yaml:"preferred_format"`
	TimesliceMs     int    `mapstructure:"timeslice_ms" yaml:"timeslice_ms"`
}

type VisualizerConfig struct {
	Enabled    *bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	FFTSize    int     `mapstructure:"fft_size" yaml:"fft_size"`
	FrameRate  int     `mapstructure:"frame_rate" yaml:"frame_rate"`
	Background string  `mapstructure:"background" yaml:"background"`
	Stroke     string  `mapstructure:"stroke" yaml:"stroke"`
	LineWidth  float64 `mapstructure:"line_width" yaml:"line_width"`
}

type OutputConfig struct {
	Directory     string `mapstructure:"directory" yaml:"directory"`
	FixedMimeType string `mapstructure:"fixed_mime_type" yaml:"fixed_mime_type"` // forces the artifact media type
}

var (
	validBackends = map[string]bool{
		"auto": true, "pipewire": true, "pulse": true, "malgo": true, "portaudio": true, "tone": true,
	}
	validFormats = map[string]bool{
		"audio/wav": true, "audio/L16": true,
	}
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

func boolPtr(v bool) *bool { return &v }

// Default returns the built-in configuration used when no file is present
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:          "auto",
			SampleRate:       48000,
			Channels:         1,
			EchoCancellation: boolPtr(true),
			NoiseSuppression: boolPtr(true),
			AutoGainControl:  boolPtr(true),
		},
		Encoder: EncoderConfig{
			PreferredFormat: "audio/wav",
		},
		Visualizer: VisualizerConfig{
			Enabled:    boolPtr(true),
			FFTSize:    2048,
			FrameRate:  30,
			Background: "#f2f2f7",
			Stroke:     "#0071e3",
			LineWidth:  2,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "VoiceCapture"),
		},
		Profile:     DefaultProfile,
		Inheritance: map[string]string{},
	}
}

// EchoCancellationEnabled reports the effective echo cancellation constraint
func (a AudioConfig) EchoCancellationEnabled() bool { return a.EchoCancellation == nil || *a.EchoCancellation }

// NoiseSuppressionEnabled reports the effective noise suppression constraint
func (a AudioConfig) NoiseSuppressionEnabled() bool { return a.NoiseSuppression == nil || *a.NoiseSuppression }

// AutoGainControlEnabled reports the effective automatic gain control constraint
func (a AudioConfig) AutoGainControlEnabled() bool { return a.AutoGainControl == nil || *a.AutoGainControl }

// IsEnabled reports whether the waveform should be drawn
func (v VisualizerConfig) IsEnabled() bool { return v.Enabled == nil || *v.Enabled }

// LoadWithProfile reads configFile and resolves the requested profile.
// A missing file yields the built-in defaults when allowMissing is set.
func LoadWithProfile(configFile, profile string, allowMissing bool) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) && allowMissing {
		cfg := Default()
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = DefaultProfile
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Selection & fallback: built-in defaults <- configs.default <- configs.<profile>
	resolved := mergeConfigs(Default(), rootConfig.Configs[DefaultProfile])
	if configName != DefaultProfile {
		resolved = mergeConfigs(resolved, selected)
	}
	resolved.Profile = configName
	resolved.Output.Directory = expandPath(resolved.Output.Directory)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ListProfiles returns the profile names defined in configFile
func ListProfiles(configFile string) ([]string, string, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var names []string
	for name := range v.GetStringMap("configs") {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, v.GetString("active_config"), nil
}

// mergeConfigs overlays profile on base. Zero values in profile fall back to base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: make(map[string]string)}
	if base != nil {
		result.Audio = base.Audio
		result.Encoder = base.Encoder
		result.Visualizer = base.Visualizer
		result.Output = base.Output
		result.Profile = base.Profile
	}

	mark := func(field string, overridden bool) {
		switch {
		case overridden:
			result.Inheritance[field] = ProfileSpecific
		case base != nil && (base.Inheritance[field] == ProfileSpecific || base.Inheritance[field] == Inherited):
			result.Inheritance[field] = Inherited
		default:
			result.Inheritance[field] = BuiltIn
		}
	}

	if profile == nil {
		for _, field := range trackedFields {
			mark(field, false)
		}
		return result
	}

	overrideString(&result.Audio.Backend, profile.Audio.Backend, "audio.backend", mark)
	overrideInt(&result.Audio.SampleRate, profile.Audio.SampleRate, "audio.sample_rate", mark)
	overrideInt(&result.Audio.Channels, profile.Audio.Channels, "audio.channels", mark)
	overrideString(&result.Audio.Source, profile.Audio.Source, "audio.source", mark)
	overrideBool(&result.Audio.EchoCancellation, profile.Audio.EchoCancellation, "audio.echo_cancellation", mark)
	overrideBool(&result.Audio.NoiseSuppression, profile.Audio.NoiseSuppression, "audio.noise_suppression", mark)
	overrideBool(&result.Audio.AutoGainControl, profile.Audio.AutoGainControl, "audio.auto_gain_control", mark)

	overrideString(&result.Encoder.PreferredFormat, profile.Encoder.PreferredFormat, "encoder.preferred_format", mark)
	overrideInt(&result.Encoder.TimesliceMs, profile.Encoder.TimesliceMs, "encoder.timeslice_ms", mark)

	overrideBool(&result.Visualizer.Enabled, profile.Visualizer.Enabled, "visualizer.enabled", mark)
	overrideInt(&result.Visualizer.FFTSize, profile.Visualizer.FFTSize, "visualizer.fft_size", mark)
	overrideInt(&result.Visualizer.FrameRate, profile.Visualizer.FrameRate, "visualizer.frame_rate", mark)
	overrideString(&result.Visualizer.Background, profile.Visualizer.Background, "visualizer.background", mark)
	overrideString(&result.Visualizer.Stroke, profile.Visualizer.Stroke, "visualizer.stroke", mark)
	if profile.Visualizer.LineWidth != 0 {
		result.Visualizer.LineWidth = profile.Visualizer.LineWidth
	}
	mark("visualizer.line_width", profile.Visualizer.LineWidth != 0)

	overrideString(&result.Output.Directory, profile.Output.Directory, "output.directory", mark)
	overrideString(&result.Output.FixedMimeType, profile.Output.FixedMimeType, "output.fixed_mime_type", mark)

	return result
}

var trackedFields = []string{
	"audio.backend", "audio.sample_rate", "audio.channels", "audio.source",
	"audio.echo_cancellation", "audio.noise_suppression", "audio.auto_gain_control",
	"encoder.preferred_format", "encoder.timeslice_ms",
	"visualizer.enabled", "visualizer.fft_size", "visualizer.frame_rate",
	"visualizer.background", "visualizer.stroke", "visualizer.line_width",
	"output.directory", "output.fixed_mime_type",
}

// TrackedFields returns the dotted config keys covered by inheritance tracking
func TrackedFields() []string {
	return append([]string(nil), trackedFields...)
}

func overrideString(dst *string, v, field string, mark func(string, bool)) {
	if v != "" {
		*dst = v
	}
	mark(field, v != "")
}

func overrideInt(dst *int, v int, field string, mark func(string, bool)) {
	if v != 0 {
		*dst = v
	}
	mark(field, v != 0)
}

func overrideBool(dst **bool, v *bool, field string, mark func(string, bool)) {
	if v != nil {
		b := *v
		*dst = &b
	}
	mark(field, v != nil)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks a resolved configuration
func Validate(cfg *Config) error {
	backend := strings.ToLower(cfg.Audio.Backend)
	if !validBackends[backend] {
		return fmt.Errorf("audio.backend must be one of auto, pipewire, pulse, malgo, portaudio, tone, got: %s", cfg.Audio.Backend)
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", cfg.Audio.Channels)
	}

	if !validFormats[cfg.Encoder.PreferredFormat] {
		return fmt.Errorf("encoder.preferred_format must be 'audio/wav' or 'audio/L16', got: %s", cfg.Encoder.PreferredFormat)
	}

	if cfg.Encoder.TimesliceMs < 0 {
		return fmt.Errorf("encoder.timeslice_ms must be >= 0, got: %d", cfg.Encoder.TimesliceMs)
	}

	fft := cfg.Visualizer.FFTSize
	if fft < 32 || fft > 32768 || fft&(fft-1) != 0 {
		return fmt.Errorf("visualizer.fft_size must be a power of two between 32 and 32768, got: %d", fft)
	}

	if cfg.Visualizer.FrameRate < 1 || cfg.Visualizer.FrameRate > 120 {
		return fmt.Errorf("visualizer.frame_rate must be between 1 and 120, got: %d", cfg.Visualizer.FrameRate)
	}

	if !colorPattern.MatchString(cfg.Visualizer.Background) {
		return fmt.Errorf("visualizer.background must be a #rrggbb color, got: %s", cfg.Visualizer.Background)
	}
	if !colorPattern.MatchString(cfg.Visualizer.Stroke) {
		return fmt.Errorf("visualizer.stroke must be a #rrggbb color, got: %s", cfg.Visualizer.Stroke)
	}

	if cfg.Visualizer.LineWidth <= 0 {
		return fmt.Errorf("visualizer.line_width must be > 0, got: %.2f", cfg.Visualizer.LineWidth)
	}

	if cfg.Output.FixedMimeType != "" && !strings.HasPrefix(cfg.Output.FixedMimeType, "audio/") {
		return fmt.Errorf("output.fixed_mime_type must be an audio/* media type, got: %s", cfg.Output.FixedMimeType)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("VOICECAPTURE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if profile.Audio.Backend != "" && !validBackends[strings.ToLower(profile.Audio.Backend)] {
			return nil, fmt.Errorf("invalid config '%s': unknown audio.backend '%s'", name, profile.Audio.Backend)
		}
		if profile.Encoder.PreferredFormat != "" && !validFormats[profile.Encoder.PreferredFormat] {
			return nil, fmt.Errorf("invalid config '%s': unknown encoder.preferred_format '%s'", name, profile.Encoder.PreferredFormat)
		}
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' is not defined in configs", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}
