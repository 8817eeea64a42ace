package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"channelmap/internal/config"
)

const defaultLogFileName = "channel_mapping.log"

// Logger owns the handler chain for a single command run. Close flushes and
// releases the file sink, if any.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New builds a logger writing to stderr and, when cfg.Dir is set, to a
// rotating log file in that directory. The process-wide slog default is left
// untouched.
func New(cfg config.Config) (*Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.Config, console io.Writer) (*Logger, error) {
	level := ParseLevel(cfg.Log.Level)
	logDir := strings.TrimSpace(cfg.Log.Dir)
	if logDir == "" {
		return &Logger{Logger: newSlog(console, level, false)}, nil
	}

	if cfg.Log.MaxSizeMB <= 0 || cfg.Log.MaxBackups <= 0 || cfg.Log.MaxAgeDays <= 0 {
		return nil, fmt.Errorf(
			"invalid log config: size=%d backups=%d age_days=%d",
			cfg.Log.MaxSizeMB,
			cfg.Log.MaxBackups,
			cfg.Log.MaxAgeDays,
		)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir failed: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, defaultLogFileName),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}

	logger := newSlog(io.MultiWriter(console, file), level, true)
	logger.Debug("file_logging_enabled", "path", file.Filename)
	return &Logger{Logger: logger, file: file}, nil
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSlog(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    noColor,
	}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
