package domain

import (
	"context"
	"math"
)

// ScriptGenerator writes narration for a topic.
type ScriptGenerator interface {
	Generate(ctx context.Context, topic string, style Style, durationSeconds int) (string, error)
}

// ImageProvider collects up to count images for a topic. Fewer results are
// acceptable; an error is returned only when nothing could be collected.
type ImageProvider interface {
	Search(ctx context.Context, topic string, count int) ([]ImageRef, error)
}

// SpeechSynthesizer narrates text. The returned duration is the clock the
// video is cut to.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioRef, error)
}

// EncodeRequest is everything the encoder needs to assemble a video.
type EncodeRequest struct {
	JobID    JobID
	Script   string
	Images   []ImageRef
	Audio    AudioRef
	Captions bool
	Style    Style
}

// VideoEncoder assembles the final video from stage artifacts.
type VideoEncoder interface {
	Assemble(ctx context.Context, req EncodeRequest) (VideoDescriptor, error)
}

// Collaborators groups the external systems a pipeline run talks to.
type Collaborators struct {
	Script ScriptGenerator
	Images ImageProvider
	Speech SpeechSynthesizer
	Video  VideoEncoder
}

// ImageCount returns how many images a video of the given length needs.
func ImageCount(durationSeconds, secondsPerImage int) int {
	if secondsPerImage <= 0 {
		secondsPerImage = DefaultSecondsPerImage
	}
	n := int(math.Ceil(float64(durationSeconds) / float64(secondsPerImage)))
	if n < 1 {
		return 1
	}
	return n
}

// WordBudget returns the narration length that fits the duration.
func WordBudget(durationSeconds, wordsPerMinute int) int {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	words := durationSeconds * wordsPerMinute / 60
	if words < 1 {
		return 1
	}
	return words
}

type workspaceKey struct{}

// WithWorkspace attaches a job's scratch directory to ctx.
func WithWorkspace(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workspaceKey{}, dir)
}

// WorkspaceDir returns the job scratch directory carried by ctx, or fallback.
func WorkspaceDir(ctx context.Context, fallback string) string {
	if dir, ok := ctx.Value(workspaceKey{}).(string); ok && dir != "" {
		return dir
	}
	return fallback
}
