// Package config loads the application configuration from an optional YAML
// file, environment variables (MOGRAPH_ prefix), and built-in defaults, in
// ascending precedence: defaults < file < environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full application configuration.
type Config struct {
	Video     VideoConfig     `mapstructure:"video"`
	SD        SDConfig        `mapstructure:"sd"`
	Animate   AnimateConfig   `mapstructure:"animate"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

// VideoConfig sets the output video geometry.
type VideoConfig struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FPS       int `mapstructure:"fps"`
	NumFrames int `mapstructure:"num_frames"`
}

// RetryConfig mirrors the shared retry policy knobs.
type RetryConfig struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
	JitterMs      int     `mapstructure:"jitter_ms"`
}

// SDConfig configures the text-to-image backend.
type SDConfig struct {
	Backend        string      `mapstructure:"backend"`
	WebUIURL       string      `mapstructure:"webui_url"`
	WebUIToken     string      `mapstructure:"webui_token"`
	RateLimit      float64     `mapstructure:"rate_limit"`
	Steps          int         `mapstructure:"steps"`
	NegativePrompt string      `mapstructure:"negative_prompt"`
	ModelPath      string      `mapstructure:"model_path"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// AnimateConfig configures the image-to-video backend.
type AnimateConfig struct {
	Backend      string `mapstructure:"backend"`
	ModelPath    string `mapstructure:"model_path"`
	MotionModule string `mapstructure:"motion_module"`
}

// FFmpegConfig configures the external encoder.
type FFmpegConfig struct {
	Path  string            `mapstructure:"path"`
	Retry FFmpegRetryConfig `mapstructure:"retry"`
}

// FFmpegRetryConfig extends the shared knobs with exit-code overrides.
type FFmpegRetryConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	BackoffFactor      float64 `mapstructure:"backoff_factor"`
	JitterMs           int     `mapstructure:"jitter_ms"`
	RetryableExitCodes []int   `mapstructure:"retryable_exit_codes"`
}

// SchedulerConfig sizes and paces batch runs.
type SchedulerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	MinFreeVRAMMB int           `mapstructure:"min_free_vram_mb"`
	HardSerial    bool          `mapstructure:"hard_serial"`
	LockPath      string        `mapstructure:"lock_path"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	IndexFile     string        `mapstructure:"index_file"`
	WorkDir       string        `mapstructure:"work_dir"`
	OutputDir     string        `mapstructure:"output_dir"`
	RunDB         string        `mapstructure:"run_db"`
}

// PromptsConfig seeds the prompt pool.
type PromptsConfig struct {
	Texts  []string `mapstructure:"texts"`
	Styles []string `mapstructure:"styles"`
	Tags   []string `mapstructure:"tags"`
	Glob   string   `mapstructure:"glob"`
}

// UploadConfig controls publishing.
type UploadConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the CLI logger and event stream.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Quiet      bool   `mapstructure:"quiet"`
	EventsPath string `mapstructure:"events_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RuntimeConfig holds execution-mode flags.
type RuntimeConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be >= 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0, got %d", c.Scheduler.MaxRetries)
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video dimensions must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	switch strings.ToLower(c.SD.Backend) {
	case "stub", "webui":
	default:
		return fmt.Errorf("sd.backend must be stub or webui, got %q", c.SD.Backend)
	}
	if strings.EqualFold(c.SD.Backend, "webui") && strings.TrimSpace(c.SD.WebUIURL) == "" {
		return fmt.Errorf("sd.webui_url is required for the webui backend")
	}
	if c.SD.Retry.MaxAttempts < 1 {
		return fmt.Errorf("sd.retry.max_attempts must be >= 1, got %d", c.SD.Retry.MaxAttempts)
	}
	if c.Upload.Enabled && strings.TrimSpace(c.Upload.Provider) == "" {
		return fmt.Errorf("upload.provider is required when upload is enabled")
	}
	return nil
}
