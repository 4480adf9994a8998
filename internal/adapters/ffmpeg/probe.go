package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Prober reads media durations with ffprobe.
type Prober struct {
	runner CommandRunner
	path   string
}

func NewProber(runner CommandRunner, ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{runner: runner, path: ffprobePath}
}

// Duration returns the container duration of file in seconds.
func (p *Prober) Duration(ctx context.Context, file string) (float64, error) {
	res, err := p.runner.Run(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		file,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", file, err, tail(res.Stderr))
	}
	out := strings.TrimSpace(res.Stdout)
	seconds, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: unexpected duration %q", file, out)
	}
	return seconds, nil
}

// tail keeps the last lines of tool output for error messages.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
