package providers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/docker/client"

	"github.com/manthysbr/reelforge/internal/adapters/docker"
	"github.com/manthysbr/reelforge/internal/adapters/ffmpeg"
	"github.com/manthysbr/reelforge/internal/adapters/imagegen"
	"github.com/manthysbr/reelforge/internal/adapters/llm"
	"github.com/manthysbr/reelforge/internal/adapters/tts"
	"github.com/manthysbr/reelforge/internal/core/domain"
)

// Factory builds collaborators from app configuration. It hides
// local/remote/container selection from callers and owns the Docker client
// shared by every build.
type Factory struct {
	logger *slog.Logger

	mu     sync.Mutex
	docker *client.Client
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Build creates the four pipeline collaborators for config.
func (f *Factory) Build(config *domain.AppConfig) (domain.Collaborators, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}

	runner, err := f.Runner(config)
	if err != nil {
		return domain.Collaborators{}, err
	}

	script, err := buildScriptGenerator(config)
	if err != nil {
		return domain.Collaborators{}, err
	}

	images, err := f.buildImageProvider(config)
	if err != nil {
		return domain.Collaborators{}, err
	}

	speech, err := f.buildSpeech(config, runner)
	if err != nil {
		return domain.Collaborators{}, err
	}

	encoder := ffmpeg.NewEncoder(f.logger, runner, f.EncoderConfig(config), config.Video, config.Captions, config.Storage.OutputDir)

	return domain.Collaborators{
		Script: script,
		Images: images,
		Speech: speech,
		Video:  encoder,
	}, nil
}

// Runner returns the process runner ffmpeg and ffprobe use.
func (f *Factory) Runner(config *domain.AppConfig) (ffmpeg.CommandRunner, error) {
	switch strings.ToLower(strings.TrimSpace(config.Providers.Encoder.Runtime)) {
	case "", "local":
		return &ffmpeg.ExecRunner{}, nil
	case "docker":
		cli, err := f.dockerClient()
		if err != nil {
			return nil, err
		}
		var mounts []string
		for _, dir := range []string{config.Storage.WorkspaceDir, config.Storage.OutputDir} {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return nil, fmt.Errorf("invalid storage path %q: %w", dir, err)
			}
			mounts = append(mounts, abs)
		}
		return docker.NewContainerRunner(f.logger, cli, config.Providers.Encoder.DockerImage, mounts...), nil
	default:
		return nil, fmt.Errorf("unsupported encoder runtime: %s", config.Providers.Encoder.Runtime)
	}
}

// PruneContainers removes encoder containers left by an earlier run. It is a
// no-op for the local runtime.
func (f *Factory) PruneContainers(ctx context.Context, config *domain.AppConfig) error {
	runner, err := f.Runner(config)
	if err != nil {
		return err
	}
	cr, ok := runner.(*docker.ContainerRunner)
	if !ok {
		return nil
	}
	n, err := cr.Prune(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		f.logger.Info("pruned leftover encoder containers", "count", n)
	}
	return nil
}

// Close releases the Docker client, if one was created.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docker == nil {
		return nil
	}
	err := f.docker.Close()
	f.docker = nil
	return err
}

func (f *Factory) dockerClient() (*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docker != nil {
		return f.docker, nil
	}
	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	f.docker = cli
	return cli, nil
}

// EncoderConfig uses bare tool names inside containers, where host paths to
// the binaries mean nothing.
func (f *Factory) EncoderConfig(config *domain.AppConfig) domain.EncoderConfig {
	enc := config.Providers.Encoder
	if strings.EqualFold(enc.Runtime, "docker") {
		enc.FFmpegPath = "ffmpeg"
		enc.FFprobePath = "ffprobe"
	}
	return enc
}

func buildScriptGenerator(config *domain.AppConfig) (domain.ScriptGenerator, error) {
	sc := config.Providers.Script
	wpm := config.Pipeline.WordsPerMinute

	switch strings.ToLower(strings.TrimSpace(sc.Mode)) {
	case "", "local":
		baseURL := normalizeOllamaBaseURL(sc.LocalURL)
		return llm.NewScriptWriter(llm.NewOllamaProvider(baseURL, strings.TrimSpace(sc.DefaultModel), sc.Temperature), wpm), nil
	case "remote":
		if strings.TrimSpace(sc.RemoteURL) == "" {
			return nil, fmt.Errorf("script remote_url is required when mode=remote")
		}
		return llm.NewScriptWriter(llm.NewOpenAIProvider(
			strings.TrimSpace(sc.RemoteURL),
			strings.TrimSpace(sc.APIKey),
			strings.TrimSpace(sc.DefaultModel),
			sc.Temperature,
		), wpm), nil
	case "none":
		return llm.Unconfigured{}, nil
	default:
		return nil, fmt.Errorf("unsupported script provider mode: %s", sc.Mode)
	}
}

func (f *Factory) buildImageProvider(config *domain.AppConfig) (domain.ImageProvider, error) {
	ic := config.Providers.Images

	var sources []imagegen.Source
	for _, name := range ic.Sources {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "pexels":
			if ic.PexelsAPIKey == "" {
				f.logger.Warn("skipping pexels image source, no API key configured")
				continue
			}
			sources = append(sources, imagegen.NewPexelsSource(ic.PexelsAPIKey))
		case "unsplash":
			if ic.UnsplashAccessKey == "" {
				f.logger.Warn("skipping unsplash image source, no access key configured")
				continue
			}
			sources = append(sources, imagegen.NewUnsplashSource(ic.UnsplashAccessKey))
		case "generate":
			if strings.TrimSpace(ic.RemoteURL) == "" {
				return nil, fmt.Errorf("images remote_url is required for the generate source")
			}
			sources = append(sources, imagegen.NewOpenAIImageSource(
				strings.TrimSpace(ic.RemoteURL),
				strings.TrimSpace(ic.APIKey),
				strings.TrimSpace(ic.DefaultModel),
			))
		case "placeholder":
			sources = append(sources, imagegen.NewPlaceholderSource(config.Video.Width, config.Video.Height))
		default:
			return nil, fmt.Errorf("unsupported image source: %s", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no usable image sources in %v", ic.Sources)
	}
	return imagegen.NewCollector(f.logger, sources, ic.DownloadAttempts, config.Storage.WorkspaceDir), nil
}

func (f *Factory) buildSpeech(config *domain.AppConfig, encoderRunner ffmpeg.CommandRunner) (domain.SpeechSynthesizer, error) {
	sc := config.Providers.Speech
	prober := ffmpeg.NewProber(encoderRunner, f.EncoderConfig(config).FFprobePath)

	switch strings.ToLower(strings.TrimSpace(sc.Mode)) {
	case "", "command":
		// TTS programs run on the host, only ffprobe follows the encoder runtime.
		return tts.NewCommandSynthesizer(f.logger, &ffmpeg.ExecRunner{}, prober, sc.Command, sc.Voice, config.Storage.WorkspaceDir), nil
	case "remote":
		if strings.TrimSpace(sc.RemoteURL) == "" {
			return nil, fmt.Errorf("speech remote_url is required when mode=remote")
		}
		return tts.NewOpenAISpeech(
			strings.TrimSpace(sc.RemoteURL),
			strings.TrimSpace(sc.APIKey),
			strings.TrimSpace(sc.Model),
			openAIVoice(sc.Voice),
			prober,
			config.Storage.WorkspaceDir,
		), nil
	default:
		return nil, fmt.Errorf("unsupported speech mode: %s", sc.Mode)
	}
}

// openAIVoice drops edge-tts style voice names ("en-US-GuyNeural"), which
// the speech API does not accept.
func openAIVoice(voice string) string {
	if strings.Contains(voice, "-") {
		return ""
	}
	return voice
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
