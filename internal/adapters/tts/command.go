package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/reelforge/internal/adapters/ffmpeg"
	"github.com/manthysbr/reelforge/internal/core/domain"
)

const defaultCommand = "edge-tts --voice {voice} --text {text} --write-media {output}"

// DurationProber measures audio length.
type DurationProber interface {
	Duration(ctx context.Context, file string) (float64, error)
}

// CommandSynthesizer narrates through an external TTS program. The command
// template is split on whitespace and {text}, {output} and {voice} are
// substituted per argument, so no shell is involved.
type CommandSynthesizer struct {
	logger   *slog.Logger
	runner   ffmpeg.CommandRunner
	prober   DurationProber
	template []string
	voice    string
	fallback string
}

func NewCommandSynthesizer(logger *slog.Logger, runner ffmpeg.CommandRunner, prober DurationProber, command, voice, fallbackDir string) *CommandSynthesizer {
	if strings.TrimSpace(command) == "" {
		command = defaultCommand
	}
	return &CommandSynthesizer{
		logger:   logger,
		runner:   runner,
		prober:   prober,
		template: strings.Fields(command),
		voice:    voice,
		fallback: fallbackDir,
	}
}

func (s *CommandSynthesizer) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AudioRef{}, domain.NewSynthesisError("nothing to narrate", nil)
	}
	output, err := narrationPath(ctx, s.fallback)
	if err != nil {
		return domain.AudioRef{}, err
	}

	r := strings.NewReplacer("{text}", text, "{output}", output, "{voice}", s.voice)
	args := make([]string, len(s.template))
	for i, part := range s.template {
		args[i] = r.Replace(part)
	}

	s.logger.Debug("running tts command", "program", args[0], "output", output)
	res, err := s.runner.Run(ctx, args[0], args[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return domain.AudioRef{}, ctx.Err()
		}
		return domain.AudioRef{}, domain.NewSynthesisError(fmt.Sprintf("%s failed: %s", args[0], strings.TrimSpace(res.Stderr)), err)
	}
	return measure(ctx, s.prober, output)
}

func narrationPath(ctx context.Context, fallback string) (string, error) {
	dir := filepath.Join(domain.WorkspaceDir(ctx, fallback), "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewSynthesisError("failed to create audio directory", err)
	}
	return filepath.Join(dir, "narration.mp3"), nil
}

func measure(ctx context.Context, prober DurationProber, output string) (domain.AudioRef, error) {
	info, err := os.Stat(output)
	if err != nil {
		return domain.AudioRef{}, domain.NewSynthesisError("tts produced no audio file", err)
	}
	if info.Size() == 0 {
		return domain.AudioRef{}, domain.NewSynthesisError("tts produced an empty audio file", nil)
	}
	seconds, err := prober.Duration(ctx, output)
	if err != nil {
		return domain.AudioRef{}, domain.NewSynthesisError("failed to measure narration", err)
	}
	return domain.AudioRef{Location: output, DurationSeconds: seconds}, nil
}
