package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/service"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance indicators",
	Long:  `Display the resolved configuration of the selected profile. Shows which values come from the built-in defaults, which are inherited from the default profile and which are profile-specific.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== PROFILE ===\n")
		fmt.Printf("config_file: %s\n", cfgFile)
		fmt.Printf("profile: %s\n", cfg.Profile)

		ext := service.Extension(cfg.Encoder.PreferredFormat)
		fmt.Printf("\n=== OUTPUT ===\n")
		fmt.Printf("example_path: %s\n", filepath.Join(cfg.Output.Directory, "recording_YYYYMMDD_HHMMSS."+ext))

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		printField("backend", cfg.Audio.Backend, "audio.backend")
		printField("sample_rate", cfg.Audio.SampleRate, "audio.sample_rate")
		printField("channels", cfg.Audio.Channels, "audio.channels")
		printField("source", orDefault(cfg.Audio.Source), "audio.source")
		printField("echo_cancellation", cfg.Audio.EchoCancellationEnabled(), "audio.echo_cancellation")
		printField("noise_suppression", cfg.Audio.NoiseSuppressionEnabled(), "audio.noise_suppression")
		printField("auto_gain_control", cfg.Audio.AutoGainControlEnabled(), "audio.auto_gain_control")

		fmt.Printf("\n[Encoder]\n")
		printField("preferred_format", cfg.Encoder.PreferredFormat, "encoder.preferred_format")
		printField("timeslice_ms", cfg.Encoder.TimesliceMs, "encoder.timeslice_ms")

		fmt.Printf("\n[Visualizer]\n")
		printField("enabled", cfg.Visualizer.IsEnabled(), "visualizer.enabled")
		printField("fft_size", cfg.Visualizer.FFTSize, "visualizer.fft_size")
		printField("frame_rate", cfg.Visualizer.FrameRate, "visualizer.frame_rate")
		printField("background", cfg.Visualizer.Background, "visualizer.background")
		printField("stroke", cfg.Visualizer.Stroke, "visualizer.stroke")
		printField("line_width", cfg.Visualizer.LineWidth, "visualizer.line_width")

		fmt.Printf("\n[Output]\n")
		printField("directory", cfg.Output.Directory, "output.directory")
		printField("fixed_mime_type", orDefault(cfg.Output.FixedMimeType), "output.fixed_mime_type")

		return nil
	},
}

func printField(name string, value interface{}, key string) {
	fmt.Printf("%s: %v %s\n", name, value, getInheritanceIndicator(cfg.Inheritance[key]))
}

func orDefault(v string) string {
	if v == "" {
		return "(default)"
	}
	return v
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.Inherited:
		return "[inherited]"
	case config.ProfileSpecific:
		return "[profile-specific]"
	default:
		return "[built-in]"
	}
}
