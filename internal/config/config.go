package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Narration NarrationConfig `yaml:"narration"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Subtitles SubtitlesConfig `yaml:"subtitles"`
	Render    RenderConfig    `yaml:"render"`
	Retention RetentionConfig `yaml:"retention"`
	Publish   PublishConfig   `yaml:"publish"`
	Research  ResearchConfig  `yaml:"research"`
	Paths     PathsConfig     `yaml:"paths"`
}

type NarrationConfig struct {
	Voice          string  `yaml:"voice"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	WordsPerMinute float64 `yaml:"words_per_minute"`
	ToleranceFrac  float64 `yaml:"duration_tolerance_frac"`
}

type FetchConfig struct {
	Workers        int     `yaml:"workers"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	LibraryDir     string  `yaml:"library_dir"`
	LibraryTags    string  `yaml:"library_tags"`
}

type SubtitlesConfig struct {
	MaxSegmentSec float64 `yaml:"max_segment_sec"`
	MaxWords      int     `yaml:"max_words"`
	MinGapMs      int     `yaml:"min_gap_ms"`
	Font          string  `yaml:"font"`
	FontSize      int     `yaml:"font_size"`
	MarginBottom  int     `yaml:"margin_bottom"`
	StrokeWidth   float64 `yaml:"stroke_width"`
}

type RenderConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	CRF    int    `yaml:"crf"`
	Preset string `yaml:"preset"`
}

type RetentionConfig struct {
	Cap int `yaml:"cap"`
}

type PublishConfig struct {
	Platforms       []string `yaml:"platforms"`
	Headless        bool     `yaml:"headless"`
	TimeoutSec      int      `yaml:"timeout_sec"`
	VerifyWindowSec int      `yaml:"verify_window_sec"`
	MaxAttempts     int      `yaml:"max_attempts"`
	LockGraceSec    int      `yaml:"lock_grace_sec"`
	YouTubeViaAPI   bool     `yaml:"youtube_via_api"`
}

type ResearchConfig struct {
	Subreddits map[string]string `yaml:"subreddits"`
	MinWords   int               `yaml:"min_words"`
	MaxWords   int               `yaml:"max_words"`
}

type PathsConfig struct {
	Output   string `yaml:"output"`
	Audio    string `yaml:"audio"`
	Video    string `yaml:"video"`
	Final    string `yaml:"final"`
	Sessions string `yaml:"sessions"`
}

// Load reads the YAML config file and fills in defaults for anything omitted.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file is fine, run on defaults.
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Narration.Voice == "" {
		c.Narration.Voice = "en-US-ChristopherNeural"
	}
	if c.Narration.TimeoutSec <= 0 {
		c.Narration.TimeoutSec = 120
	}
	if c.Narration.WordsPerMinute <= 0 {
		c.Narration.WordsPerMinute = 150
	}
	if c.Narration.ToleranceFrac <= 0 {
		c.Narration.ToleranceFrac = 0.35
	}
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = 4
	}
	if c.Fetch.MaxRetries <= 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 120
	}
	if c.Fetch.RequestsPerSec <= 0 {
		c.Fetch.RequestsPerSec = 2
	}
	if c.Fetch.LibraryDir == "" {
		c.Fetch.LibraryDir = "assets/library"
	}
	if c.Fetch.LibraryTags == "" {
		c.Fetch.LibraryTags = "assets/library/tags.json"
	}
	if c.Subtitles.MaxSegmentSec <= 0 {
		c.Subtitles.MaxSegmentSec = 4
	}
	if c.Subtitles.MaxWords <= 0 {
		c.Subtitles.MaxWords = 6
	}
	if c.Subtitles.Font == "" {
		c.Subtitles.Font = "DejaVu Sans"
	}
	if c.Subtitles.FontSize <= 0 {
		c.Subtitles.FontSize = 22
	}
	if c.Subtitles.MarginBottom <= 0 {
		c.Subtitles.MarginBottom = 120
	}
	if c.Subtitles.StrokeWidth <= 0 {
		c.Subtitles.StrokeWidth = 2
	}
	if c.Render.Width <= 0 {
		c.Render.Width = 1080
	}
	if c.Render.Height <= 0 {
		c.Render.Height = 1920
	}
	if c.Render.FPS <= 0 {
		c.Render.FPS = 30
	}
	if c.Render.CRF <= 0 {
		c.Render.CRF = 22
	}
	if c.Render.Preset == "" {
		c.Render.Preset = "fast"
	}
	if c.Retention.Cap <= 0 {
		c.Retention.Cap = 3
	}
	if len(c.Publish.Platforms) == 0 {
		c.Publish.Platforms = []string{"youtube"}
	}
	if c.Publish.TimeoutSec <= 0 {
		c.Publish.TimeoutSec = 120
	}
	if c.Publish.VerifyWindowSec <= 0 {
		c.Publish.VerifyWindowSec = 45
	}
	if c.Publish.MaxAttempts <= 0 {
		c.Publish.MaxAttempts = 2
	}
	if c.Publish.LockGraceSec <= 0 {
		c.Publish.LockGraceSec = 300
	}
	if len(c.Research.Subreddits) == 0 {
		c.Research.Subreddits = map[string]string{
			"interesting": "AskReddit",
			"funny":       "tifu",
			"scary":       "shortscarystories",
		}
	}
	if c.Research.MinWords <= 0 {
		c.Research.MinWords = 50
	}
	if c.Research.MaxWords <= 0 {
		c.Research.MaxWords = 200
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "output"
	}
	if c.Paths.Audio == "" {
		c.Paths.Audio = "output/audio"
	}
	if c.Paths.Video == "" {
		c.Paths.Video = "output/video"
	}
	if c.Paths.Final == "" {
		c.Paths.Final = "output/final"
	}
	if c.Paths.Sessions == "" {
		c.Paths.Sessions = ".sessions"
	}
}

// ValidateCredentials fails fast when a credential the run will need is
// missing, rather than surfacing a confusing 401 from the provider
// mid-pipeline.
func (c *Config) ValidateCredentials() error {
	if os.Getenv("PEXELS_API_KEY") == "" {
		return fmt.Errorf("PEXELS_API_KEY is not set: create a .env file with your key (see .env.example)")
	}
	return c.ValidatePublishCredentials()
}

// ValidatePublishCredentials checks only what publishing needs, so a
// publish-only invocation does not demand the footage provider key.
func (c *Config) ValidatePublishCredentials() error {
	if !c.Publish.YouTubeViaAPI {
		return nil
	}
	for _, key := range []string{"YOUTUBE_CLIENT_ID", "YOUTUBE_CLIENT_SECRET", "YOUTUBE_REFRESH_TOKEN"} {
		if os.Getenv(key) == "" {
			return fmt.Errorf("%s is not set but publish.youtube_via_api is enabled", key)
		}
	}
	return nil
}

// EnsureDirs creates every directory the pipeline writes to.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.Output, c.Paths.Audio, c.Paths.Video, c.Paths.Final, c.Paths.Sessions} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}
