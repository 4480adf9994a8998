package ffmpeg

import (
	"fmt"
	"math"
	"strings"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

// Cue is one caption line.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// SplitCues spreads the script's words evenly over fixed segments covering
// totalSeconds.
func SplitCues(script string, totalSeconds float64, segmentSeconds int) []Cue {
	words := strings.Fields(script)
	if len(words) == 0 || totalSeconds <= 0 {
		return nil
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 5
	}

	segments := int(math.Ceil(totalSeconds / float64(segmentSeconds)))
	if segments > len(words) {
		segments = len(words)
	}
	if segments < 1 {
		segments = 1
	}

	span := totalSeconds / float64(segments)
	cues := make([]Cue, 0, segments)
	for i := 0; i < segments; i++ {
		from := i * len(words) / segments
		to := (i + 1) * len(words) / segments
		cues = append(cues, Cue{
			Start: float64(i) * span,
			End:   float64(i+1) * span,
			Text:  strings.Join(words[from:to], " "),
		})
	}
	cues[len(cues)-1].End = totalSeconds
	return cues
}

// FormatSRT renders cues as a SubRip document.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.Start), srtTime(c.End), c.Text)
	}
	return b.String()
}

func srtTime(seconds float64) string {
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ForceStyle converts caption settings to an ASS style override for the
// subtitles filter.
func ForceStyle(c domain.CaptionConfig) string {
	alignment := 2
	switch c.Position {
	case "center":
		alignment = 5
	case "top":
		alignment = 8
	}
	return fmt.Sprintf("FontSize=%d,PrimaryColour=%s,OutlineColour=%s,Outline=%d,BorderStyle=1,Alignment=%d,MarginV=%d",
		c.FontSize, assColor(c.PrimaryColor), assColor(c.OutlineColor), c.OutlineWidth, alignment, c.Margin)
}

// assColor turns #RRGGBB into &H00BBGGRR.
func assColor(hex string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return "&H00FFFFFF"
	}
	hex = strings.ToUpper(hex)
	return "&H00" + hex[4:6] + hex[2:4] + hex[0:2]
}
