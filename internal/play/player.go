// Package play previews saved recordings through a system audio player.
package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/config"
)

// players in order of preference
var players = []string{"pw-play", "paplay", "mpv", "ffplay", "aplay"}

type Player struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

func New(cfg *config.Config) *Player {
	return &Player{cfg: cfg, lookPath: exec.LookPath}
}

// Play blocks until the recording at path has been played
func (p *Player) Play(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("recording not found: %s", path)
	}

	player, err := p.findAudioPlayer(isRaw(path))
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := p.playerArgs(player, path)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "path", path, "player", player)
	cmd := exec.Command(player, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

// playerArgs builds the command line; raw .pcm files are described from the profile
func (p *Player) playerArgs(player, path string) ([]string, error) {
	raw := isRaw(path)
	rate := strconv.Itoa(p.cfg.Audio.SampleRate)
	channels := strconv.Itoa(p.cfg.Audio.Channels)

	switch player {
	case "pw-play":
		if raw {
			return nil, fmt.Errorf("pw-play cannot play big-endian raw audio")
		}
		return []string{path}, nil
	case "paplay":
		if raw {
			return []string{"--raw", "--format=s16be", "--rate=" + rate, "--channels=" + channels, path}, nil
		}
		return []string{path}, nil
	case "mpv":
		if raw {
			return []string{"--no-video", "--demuxer=rawaudio", "--demuxer-rawaudio-format=s16be",
				"--demuxer-rawaudio-rate=" + rate, "--demuxer-rawaudio-channels=" + channels, path}, nil
		}
		return []string{"--no-video", path}, nil
	case "ffplay":
		if raw {
			return []string{"-nodisp", "-autoexit", "-f", "s16be", "-ar", rate, "-ac", channels, path}, nil
		}
		return []string{"-nodisp", "-autoexit", path}, nil
	case "aplay":
		if raw {
			return []string{"-t", "raw", "-f", "S16_BE", "-r", rate, "-c", channels, path}, nil
		}
		return []string{path}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

// findAudioPlayer skips pw-play for raw L16, which is big-endian
func (p *Player) findAudioPlayer(raw bool) (string, error) {
	for _, player := range players {
		if raw && player == "pw-play" {
			continue
		}
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func isRaw(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pcm")
}
