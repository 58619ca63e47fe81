// Package observability owns the two logger surfaces: the human-facing CLI
// logger and the structured event stream consumed for postmortem analysis.
// The event stream carries key/value data only; no human-readable
// formatting happens on that path.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process-wide logger for user-facing command output.
// Defaults to a no-op until InitCLILogger runs so package init order never
// panics.
var CLILogger = zap.NewNop()

// InitCLILogger configures the CLI logger at the given level. Quiet mode
// raises the floor to warnings.
func InitCLILogger(level string, quiet bool) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	if quiet && lvl < zapcore.WarnLevel {
		lvl = zapcore.WarnLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	CLILogger = zap.New(core)
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// EventConfig configures the structured event stream.
type EventConfig struct {
	// Path is the JSONL event file. Empty means events go to stderr.
	Path string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewEventLogger builds the JSON event logger. Each entry is one line of
// {"event": ..., "ts": ..., ...fields}. The returned closer flushes and
// releases the underlying sink.
func NewEventLogger(cfg EventConfig) (*zap.Logger, func(), error) {
	encCfg := zapcore.EncoderConfig{
		MessageKey:    "event",
		TimeKey:       "ts",
		LevelKey:      "level",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeName:    zapcore.FullNameEncoder,
		NameKey:       "logger",
		StacktraceKey: "",
	}

	var sink zapcore.WriteSyncer
	closer := func() {}
	if cfg.Path == "" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		sink = zapcore.AddSync(lj)
		closer = func() { _ = lj.Close() }
	}

	logger := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.InfoLevel))
	return logger, func() {
		_ = logger.Sync()
		closer()
	}, nil
}
