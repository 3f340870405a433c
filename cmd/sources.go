package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long: `List the capture sources of every backend compiled into this binary.
Use --backend to restrict the listing to one backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetString("backend")

		fmt.Printf("Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		for _, backendType := range audio.GetAvailableBackends() {
			if only != "" && !strings.EqualFold(only, string(backendType)) {
				continue
			}
			listBackendSources(backendType, string(backendType) == cfg.Audio.Backend)
		}

		fmt.Printf("Configure the source in audio.source of your profile, or pass --source to record.\n")
		fmt.Printf("Echo cancellation uses the PipeWire/PulseAudio echo-cancel module when one is loaded.\n")
		return nil
	},
}

func listBackendSources(backendType audio.BackendType, configured bool) {
	marker := ""
	if configured {
		marker = " (configured)"
	}

	backend, err := audio.NewBackend(string(backendType))
	if err != nil {
		fmt.Printf("%s%s: unavailable: %v\n\n", strings.ToUpper(string(backendType)), marker, err)
		return
	}

	sources, err := backend.ListSources()
	if err != nil {
		slog.Debug("Failed to list sources", "backend", backendType, "error", err)
		fmt.Printf("%s%s: unavailable: %v\n\n", strings.ToUpper(string(backendType)), marker, err)
		return
	}

	fmt.Printf("%s SOURCES%s (%d found):\n", strings.ToUpper(string(backendType)), marker, len(sources))
	for i, source := range sources {
		fmt.Printf("  %d. %s\n", i+1, source)
	}
	fmt.Println()
}

func init() {
	sourcesCmd.Flags().String("backend", "", "only list sources of this backend")
}
