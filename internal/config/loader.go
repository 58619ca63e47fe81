package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply. Environment variables use the
// MOGRAPH_ prefix with underscores for nesting, e.g.
// MOGRAPH_SCHEDULER_CONCURRENCY=2.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MOGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("video.width", 1080)
	v.SetDefault("video.height", 1920)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.num_frames", 24)

	v.SetDefault("sd.backend", "stub")
	v.SetDefault("sd.webui_url", "")
	v.SetDefault("sd.webui_token", "")
	v.SetDefault("sd.model_path", "")
	v.SetDefault("sd.negative_prompt", "")
	v.SetDefault("sd.steps", 30)
	v.SetDefault("sd.rate_limit", 0.0)
	v.SetDefault("sd.retry.max_attempts", 3)
	v.SetDefault("sd.retry.backoff_factor", 2.0)
	v.SetDefault("sd.retry.jitter_ms", 250)

	v.SetDefault("animate.backend", "stub")
	v.SetDefault("animate.model_path", "")
	v.SetDefault("animate.motion_module", "")

	v.SetDefault("ffmpeg.path", "")
	v.SetDefault("ffmpeg.retry.enabled", true)
	v.SetDefault("ffmpeg.retry.max_attempts", 2)
	v.SetDefault("ffmpeg.retry.backoff_factor", 2.0)
	v.SetDefault("ffmpeg.retry.jitter_ms", 0)
	v.SetDefault("ffmpeg.retry.retryable_exit_codes", []int{})

	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.max_retries", 1)
	v.SetDefault("scheduler.cooldown", 5*time.Second)
	v.SetDefault("scheduler.min_free_vram_mb", 3000)
	v.SetDefault("scheduler.hard_serial", true)
	v.SetDefault("scheduler.lock_path", "data/gpu.lock")
	v.SetDefault("scheduler.lock_timeout", 60*time.Second)
	v.SetDefault("scheduler.index_file", "data/ledger.jsonl")
	v.SetDefault("scheduler.work_dir", "data/work")
	v.SetDefault("scheduler.output_dir", "data/videos")
	v.SetDefault("scheduler.run_db", "data/runs.db")

	v.SetDefault("prompts.glob", "")

	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.provider", "disabled")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.quiet", false)
	v.SetDefault("logging.events_path", "data/events.jsonl")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("runtime.dry_run", false)
}
