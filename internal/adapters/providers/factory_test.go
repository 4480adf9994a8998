package providers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/manthysbr/reelforge/internal/adapters/docker"
	"github.com/manthysbr/reelforge/internal/adapters/ffmpeg"
	"github.com/manthysbr/reelforge/internal/adapters/imagegen"
	"github.com/manthysbr/reelforge/internal/adapters/llm"
	"github.com/manthysbr/reelforge/internal/adapters/tts"
	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f := NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFactory_BuildDefaults(t *testing.T) {
	collab, err := newTestFactory(t).Build(domain.DefaultConfig())
	require.NoError(t, err)

	assert.IsType(t, &llm.ScriptWriter{}, collab.Script)
	assert.IsType(t, &imagegen.Collector{}, collab.Images)
	assert.IsType(t, &tts.CommandSynthesizer{}, collab.Speech)
	assert.IsType(t, &ffmpeg.Encoder{}, collab.Video)
}

func TestFactory_BuildRemoteProviders(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Providers.Script.Mode = "remote"
	cfg.Providers.Speech.Mode = "remote"
	cfg.Providers.Images.Sources = []string{"generate"}

	collab, err := newTestFactory(t).Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, &llm.ScriptWriter{}, collab.Script)
	assert.IsType(t, &tts.OpenAISpeech{}, collab.Speech)
}

func TestFactory_ScriptNone(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Providers.Script.Mode = "none"

	collab, err := newTestFactory(t).Build(cfg)
	require.NoError(t, err)

	_, err = collab.Script.Generate(context.Background(), "x", domain.StyleNews, 10)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestFactory_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.AppConfig)
		want   string
	}{
		{"unknown script mode", func(c *domain.AppConfig) { c.Providers.Script.Mode = "magic" }, "unsupported script provider mode"},
		{"remote script without url", func(c *domain.AppConfig) {
			c.Providers.Script.Mode = "remote"
			c.Providers.Script.RemoteURL = ""
		}, "remote_url"},
		{"keyed sources without keys", func(c *domain.AppConfig) { c.Providers.Images.Sources = []string{"pexels", "unsplash"} }, "no usable image sources"},
		{"unknown image source", func(c *domain.AppConfig) { c.Providers.Images.Sources = []string{"flickr"} }, "unsupported image source"},
		{"unknown speech mode", func(c *domain.AppConfig) { c.Providers.Speech.Mode = "psychic" }, "unsupported speech mode"},
		{"unknown runtime", func(c *domain.AppConfig) { c.Providers.Encoder.Runtime = "k8s" }, "unsupported encoder runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			_, err := newTestFactory(t).Build(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFactory_DockerRuntime(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Providers.Encoder.Runtime = "docker"
	cfg.Storage.WorkspaceDir = t.TempDir()
	cfg.Storage.OutputDir = t.TempDir()

	f := newTestFactory(t)
	runner, err := f.Runner(cfg)
	require.NoError(t, err)
	assert.IsType(t, &docker.ContainerRunner{}, runner)

	enc := f.EncoderConfig(cfg)
	assert.Equal(t, "ffmpeg", enc.FFmpegPath)
	assert.Equal(t, "ffprobe", enc.FFprobePath)
}

func TestOpenAIVoice(t *testing.T) {
	assert.Equal(t, "", openAIVoice("en-US-GuyNeural"))
	assert.Equal(t, "nova", openAIVoice("nova"))
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL("http://localhost:11434/v1/"))
	assert.Equal(t, "http://ollama:11434", normalizeOllamaBaseURL(" http://ollama:11434 "))
}
