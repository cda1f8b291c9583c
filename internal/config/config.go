package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	OutputDir   string `yaml:"output_dir"`
	Concurrency int    `yaml:"concurrency"`

	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Fal       FalConfig       `yaml:"fal"`
	Store     StoreConfig     `yaml:"store"`
	Narration NarrationConfig `yaml:"narration"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
	Preset     string `yaml:"preset"`
}

// FalConfig configures the generative-media backend. The API key is never
// read from the file; it comes from FAL_KEY.
type FalConfig struct {
	BaseURL         string        `yaml:"base_url"`
	ImageModel      string        `yaml:"image_model"`
	FaceImageModel  string        `yaml:"face_image_model"`
	VideoModel      string        `yaml:"video_model"`
	ReferenceModel  string        `yaml:"reference_model"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NarrationConfig struct {
	MaxSeconds float64 `yaml:"max_seconds"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Fal.CallTimeout < 0 || c.Fal.DownloadTimeout < 0 {
		return fmt.Errorf("fal timeouts cannot be negative")
	}
	if c.Narration.MaxSeconds < 0 {
		return fmt.Errorf("narration.max_seconds cannot be negative")
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		OutputDir:   "./output",
		Concurrency: 3,
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
			Preset:     "fast",
		},
		Fal: FalConfig{
			BaseURL:         "https://queue.fal.run",
			ImageModel:      "fal-ai/flux/dev",
			FaceImageModel:  "fal-ai/flux-pulid",
			VideoModel:      "fal-ai/kling-video/v2.1/standard/image-to-video",
			ReferenceModel:  "fal-ai/kling-video/o1/reference-to-video",
			CallTimeout:     10 * time.Minute,
			PollInterval:    2 * time.Second,
			DownloadTimeout: 120 * time.Second,
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".storyreel", "runs.db"),
		},
		Narration: NarrationConfig{
			MaxSeconds: 6.0,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./storyreel.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".storyreel", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
