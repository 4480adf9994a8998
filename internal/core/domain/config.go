package domain

const (
	DefaultSecondsPerImage = 8
	DefaultWordsPerMinute  = 150
	DefaultDurationSeconds = 60
)

// AppConfig is the main application configuration
type AppConfig struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Providers ProviderConfig   `json:"providers" yaml:"providers"`
	Pipeline  PipelineSettings `json:"pipeline" yaml:"pipeline"`
	Video     VideoConfig      `json:"video" yaml:"video"`
	Captions  CaptionConfig    `json:"captions" yaml:"captions"`
	Storage   StorageConfig    `json:"storage" yaml:"storage"`
	Reddit    RedditConfig     `json:"reddit" yaml:"reddit"`
}

type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// ProviderConfig holds configuration for all collaborators
type ProviderConfig struct {
	Script  ScriptProviderConfig `json:"script" yaml:"script"`
	Images  ImageProviderConfig  `json:"images" yaml:"images"`
	Speech  SpeechProviderConfig `json:"speech" yaml:"speech"`
	Encoder EncoderConfig        `json:"encoder" yaml:"encoder"`
}

// ScriptProviderConfig configures the LLM used for scripts
type ScriptProviderConfig struct {
	Mode         string  `json:"mode" yaml:"mode"`           // "local", "remote" or "none"
	LocalURL     string  `json:"local_url" yaml:"local_url"` // "http://localhost:11434"
	RemoteURL    string  `json:"remote_url" yaml:"remote_url"`
	APIKey       string  `json:"api_key" yaml:"api_key"` // Encrypted in storage
	DefaultModel string  `json:"default_model" yaml:"default_model"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
}

// ImageProviderConfig configures image sources, tried in order
type ImageProviderConfig struct {
	Sources           []string `json:"sources" yaml:"sources"` // "pexels", "unsplash", "generate", "placeholder"
	PexelsAPIKey      string   `json:"pexels_api_key" yaml:"pexels_api_key"`
	UnsplashAccessKey string   `json:"unsplash_access_key" yaml:"unsplash_access_key"`
	RemoteURL         string   `json:"remote_url" yaml:"remote_url"`
	APIKey            string   `json:"api_key" yaml:"api_key"`
	DefaultModel      string   `json:"default_model" yaml:"default_model"`
	DownloadAttempts  int      `json:"download_attempts" yaml:"download_attempts"`
}

// SpeechProviderConfig configures narration
type SpeechProviderConfig struct {
	Mode      string `json:"mode" yaml:"mode"`       // "command" or "remote"
	Command   string `json:"command" yaml:"command"` // template with {text} and {output}
	Voice     string `json:"voice" yaml:"voice"`
	RemoteURL string `json:"remote_url" yaml:"remote_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Model     string `json:"model" yaml:"model"`
}

// EncoderConfig selects where ffmpeg runs
type EncoderConfig struct {
	Runtime     string `json:"runtime" yaml:"runtime"` // "local" or "docker"
	FFmpegPath  string `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path" yaml:"ffprobe_path"`
	DockerImage string `json:"docker_image" yaml:"docker_image"`
}

// PipelineSettings holds the pacing heuristics and execution policy.
type PipelineSettings struct {
	DefaultDurationSeconds int   `json:"default_duration_seconds" yaml:"default_duration_seconds"`
	SecondsPerImage        int   `json:"seconds_per_image" yaml:"seconds_per_image"`
	WordsPerMinute         int   `json:"words_per_minute" yaml:"words_per_minute"`
	StageTimeoutSeconds    int   `json:"stage_timeout_seconds" yaml:"stage_timeout_seconds"` // 0 disables
	ParallelMedia          bool  `json:"parallel_media" yaml:"parallel_media"`
	MaxConcurrentJobs      int64 `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"` // 0 is unlimited
}

type VideoConfig struct {
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`
	FPS          int    `json:"fps" yaml:"fps"`
	VideoBitrate string `json:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate string `json:"audio_bitrate" yaml:"audio_bitrate"`
	SampleRate   int    `json:"sample_rate" yaml:"sample_rate"`
}

type CaptionConfig struct {
	FontSize       int    `json:"font_size" yaml:"font_size"`
	PrimaryColor   string `json:"primary_color" yaml:"primary_color"`
	OutlineColor   string `json:"outline_color" yaml:"outline_color"`
	OutlineWidth   int    `json:"outline_width" yaml:"outline_width"`
	Position       string `json:"position" yaml:"position"` // "bottom", "center", "top"
	Margin         int    `json:"margin" yaml:"margin"`
	SegmentSeconds int    `json:"segment_seconds" yaml:"segment_seconds"`
}

type StorageConfig struct {
	OutputDir      string `json:"output_dir" yaml:"output_dir"`
	WorkspaceDir   string `json:"workspace_dir" yaml:"workspace_dir"`
	ArchivePath    string `json:"archive_path" yaml:"archive_path"`
	KeepWorkspaces bool   `json:"keep_workspaces" yaml:"keep_workspaces"`
}

type RedditConfig struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	UserAgent    string `json:"user_agent" yaml:"user_agent"`
	Subreddit    string `json:"subreddit" yaml:"subreddit"`
	Limit        int    `json:"limit" yaml:"limit"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Providers: ProviderConfig{
			Script: ScriptProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434",
				RemoteURL:    "https://api.openai.com/v1",
				DefaultModel: "llama3.1",
				Temperature:  0.7,
			},
			Images: ImageProviderConfig{
				Sources:          []string{"pexels", "unsplash", "placeholder"},
				RemoteURL:        "https://api.openai.com/v1",
				DefaultModel:     "gpt-image-1",
				DownloadAttempts: 3,
			},
			Speech: SpeechProviderConfig{
				Mode:      "command",
				Voice:     "en-US-GuyNeural",
				RemoteURL: "https://api.openai.com/v1",
				Model:     "tts-1",
			},
			Encoder: EncoderConfig{
				Runtime:     "local",
				FFmpegPath:  "ffmpeg",
				FFprobePath: "ffprobe",
				DockerImage: "linuxserver/ffmpeg:latest",
			},
		},
		Pipeline: PipelineSettings{
			DefaultDurationSeconds: DefaultDurationSeconds,
			SecondsPerImage:        DefaultSecondsPerImage,
			WordsPerMinute:         DefaultWordsPerMinute,
		},
		Video: VideoConfig{
			Width:        1080,
			Height:       1920,
			FPS:          30,
			VideoBitrate: "5000k",
			AudioBitrate: "128k",
			SampleRate:   44100,
		},
		Captions: CaptionConfig{
			FontSize:       48,
			PrimaryColor:   "#FFFFFF",
			OutlineColor:   "#000000",
			OutlineWidth:   2,
			Position:       "bottom",
			Margin:         50,
			SegmentSeconds: 5,
		},
		Storage: StorageConfig{
			OutputDir:    "output",
			WorkspaceDir: "workspace",
			ArchivePath:  "reelforge.db",
		},
		Reddit: RedditConfig{
			UserAgent: "ReelForge/1.0.0",
			Subreddit: "all",
			Limit:     10,
		},
	}
}

// Clone returns a copy that shares no slices with c.
func (c *AppConfig) Clone() *AppConfig {
	cp := *c
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	cp.Providers.Images.Sources = append([]string(nil), c.Providers.Images.Sources...)
	return &cp
}

// Secrets returns pointers to every secret field, for encryption and masking.
func (c *AppConfig) Secrets() map[string]*string {
	return map[string]*string{
		"script.api_key":             &c.Providers.Script.APIKey,
		"images.pexels_api_key":      &c.Providers.Images.PexelsAPIKey,
		"images.unsplash_access_key": &c.Providers.Images.UnsplashAccessKey,
		"images.api_key":             &c.Providers.Images.APIKey,
		"speech.api_key":             &c.Providers.Speech.APIKey,
		"reddit.client_secret":       &c.Reddit.ClientSecret,
		"reddit.password":            &c.Reddit.Password,
	}
}
