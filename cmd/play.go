package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/play"
	"github.com/audiolibrelab/voicecapture/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [name]",
	Short: "Play a saved recording",
	Long: `Play a recording from the output directory using the first available
system player (pw-play, paplay, mpv, ffplay or aplay). Without a name the
newest recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordings, err := service.ListRecordingsIn(cfg.Output.Directory)
		if err != nil {
			return err
		}
		if len(recordings) == 0 {
			return fmt.Errorf("no recordings in %s", cfg.Output.Directory)
		}

		path := recordings[0].Path
		if len(args) == 1 {
			path = ""
			want := service.CleanFileName(args[0])
			for _, rec := range recordings {
				stem := strings.TrimSuffix(rec.Name, filepath.Ext(rec.Name))
				if rec.Name == args[0] || stem == want {
					path = rec.Path
					break
				}
			}
			if path == "" {
				return fmt.Errorf("recording '%s' not found in %s", args[0], cfg.Output.Directory)
			}
		}

		fmt.Printf("Playing: %s\n", path)
		return play.New(cfg).Play(path)
	},
}
