package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "REELFORGE_CONFIG"
	defaultConfigPath = "reelforge.yaml"
)

// Load builds the startup configuration: defaults, then the YAML file named
// by REELFORGE_CONFIG (reelforge.yaml when unset, optional), then the
// environment.
func Load() (*domain.AppConfig, error) {
	path := os.Getenv(configPathEnv)
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	return LoadFile(path, explicit)
}

// LoadFile is Load with an explicit path. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envOverride struct {
	name  string
	apply func(cfg *domain.AppConfig, value string) error
}

var envOverrides = []envOverride{
	{"REELFORGE_ADDR", func(c *domain.AppConfig, v string) error { c.Server.Addr = v; return nil }},
	{"OPENAI_API_KEY", func(c *domain.AppConfig, v string) error {
		// One key serves every OpenAI backed collaborator unless set individually.
		for _, field := range []*string{&c.Providers.Script.APIKey, &c.Providers.Images.APIKey, &c.Providers.Speech.APIKey} {
			if *field == "" {
				*field = v
			}
		}
		return nil
	}},
	{"OPENAI_BASE_URL", func(c *domain.AppConfig, v string) error {
		c.Providers.Script.RemoteURL = v
		c.Providers.Images.RemoteURL = v
		c.Providers.Speech.RemoteURL = v
		return nil
	}},
	{"OLLAMA_HOST", func(c *domain.AppConfig, v string) error { c.Providers.Script.LocalURL = v; return nil }},
	{"SCRIPT_MODE", func(c *domain.AppConfig, v string) error { c.Providers.Script.Mode = v; return nil }},
	{"SCRIPT_MODEL", func(c *domain.AppConfig, v string) error { c.Providers.Script.DefaultModel = v; return nil }},
	{"PEXELS_API_KEY", func(c *domain.AppConfig, v string) error { c.Providers.Images.PexelsAPIKey = v; return nil }},
	{"UNSPLASH_ACCESS_KEY", func(c *domain.AppConfig, v string) error { c.Providers.Images.UnsplashAccessKey = v; return nil }},
	{"IMAGE_SOURCES", func(c *domain.AppConfig, v string) error {
		c.Providers.Images.Sources = splitList(v)
		return nil
	}},
	{"TTS_COMMAND", func(c *domain.AppConfig, v string) error { c.Providers.Speech.Command = v; return nil }},
	{"TTS_VOICE", func(c *domain.AppConfig, v string) error { c.Providers.Speech.Voice = v; return nil }},
	{"TTS_MODE", func(c *domain.AppConfig, v string) error { c.Providers.Speech.Mode = v; return nil }},
	{"FFMPEG_PATH", func(c *domain.AppConfig, v string) error { c.Providers.Encoder.FFmpegPath = v; return nil }},
	{"FFPROBE_PATH", func(c *domain.AppConfig, v string) error { c.Providers.Encoder.FFprobePath = v; return nil }},
	{"REELFORGE_ENCODER_RUNTIME", func(c *domain.AppConfig, v string) error { c.Providers.Encoder.Runtime = v; return nil }},
	{"REELFORGE_OUTPUT_DIR", func(c *domain.AppConfig, v string) error { c.Storage.OutputDir = v; return nil }},
	{"REELFORGE_WORKSPACE_DIR", func(c *domain.AppConfig, v string) error { c.Storage.WorkspaceDir = v; return nil }},
	{"REELFORGE_DB_PATH", func(c *domain.AppConfig, v string) error { c.Storage.ArchivePath = v; return nil }},
	{"REELFORGE_MAX_CONCURRENT_JOBS", func(c *domain.AppConfig, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Pipeline.MaxConcurrentJobs = n
		return nil
	}},
	{"REELFORGE_STAGE_TIMEOUT_SECONDS", func(c *domain.AppConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Pipeline.StageTimeoutSeconds = n
		return nil
	}},
	{"REDDIT_CLIENT_ID", func(c *domain.AppConfig, v string) error { c.Reddit.ClientID = v; return nil }},
	{"REDDIT_CLIENT_SECRET", func(c *domain.AppConfig, v string) error { c.Reddit.ClientSecret = v; return nil }},
	{"REDDIT_USERNAME", func(c *domain.AppConfig, v string) error { c.Reddit.Username = v; return nil }},
	{"REDDIT_PASSWORD", func(c *domain.AppConfig, v string) error { c.Reddit.Password = v; return nil }},
	{"REDDIT_USER_AGENT", func(c *domain.AppConfig, v string) error { c.Reddit.UserAgent = v; return nil }},
}

// ApplyEnv overlays environment variables onto cfg. lookup is os.LookupEnv
// outside of tests.
func ApplyEnv(cfg *domain.AppConfig, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", o.name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var knownImageSources = map[string]bool{
	"pexels":      true,
	"unsplash":    true,
	"generate":    true,
	"placeholder": true,
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *domain.AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	script := cfg.Providers.Script
	switch script.Mode {
	case "local", "none":
	case "remote":
		if script.RemoteURL == "" {
			add("script remote_url is required when mode=remote")
		}
		if script.APIKey == "" {
			add("script api_key is required when mode=remote")
		}
	default:
		add("unknown script mode %q", script.Mode)
	}

	if len(cfg.Providers.Images.Sources) == 0 {
		add("at least one image source is required")
	}
	for _, src := range cfg.Providers.Images.Sources {
		if !knownImageSources[src] {
			add("unknown image source %q", src)
		}
	}

	switch cfg.Providers.Speech.Mode {
	case "command":
	case "remote":
		if cfg.Providers.Speech.APIKey == "" {
			add("speech api_key is required when mode=remote")
		}
	default:
		add("unknown speech mode %q", cfg.Providers.Speech.Mode)
	}

	switch cfg.Providers.Encoder.Runtime {
	case "local":
	case "docker":
		if cfg.Providers.Encoder.DockerImage == "" {
			add("encoder docker_image is required when runtime=docker")
		}
	default:
		add("unknown encoder runtime %q", cfg.Providers.Encoder.Runtime)
	}

	p := cfg.Pipeline
	if p.DefaultDurationSeconds <= 0 {
		add("pipeline default_duration_seconds must be positive")
	}
	if p.SecondsPerImage <= 0 {
		add("pipeline seconds_per_image must be positive")
	}
	if p.WordsPerMinute <= 0 {
		add("pipeline words_per_minute must be positive")
	}
	if p.StageTimeoutSeconds < 0 {
		add("pipeline stage_timeout_seconds must not be negative")
	}
	if p.MaxConcurrentJobs < 0 {
		add("pipeline max_concurrent_jobs must not be negative")
	}

	if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 || cfg.Video.FPS <= 0 {
		add("video width, height and fps must be positive")
	}
	if cfg.Captions.SegmentSeconds <= 0 {
		add("captions segment_seconds must be positive")
	}
	switch cfg.Captions.Position {
	case "bottom", "center", "top":
	default:
		add("unknown caption position %q", cfg.Captions.Position)
	}

	if cfg.Storage.OutputDir == "" || cfg.Storage.WorkspaceDir == "" {
		add("storage output_dir and workspace_dir are required")
	}

	if len(errs) > 0 {
		return &domain.ValidationError{
			Field:   "config",
			Message: "invalid configuration: " + errors.Join(errs...).Error(),
		}
	}
	return nil
}
