// Package logging provides structured logging built on log/slog, with
// rotation for the JSON log file and plain text on stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	loggerMu         sync.RWMutex

	currentLevel = new(slog.LevelVar)
	initOnce     sync.Once
	initialized  bool

	rotatorMu sync.Mutex
	rotator   *lumberjack.Logger
)

const (
	// LevelTrace is noisier than slog.LevelDebug; used for per-chunk detail.
	LevelTrace = slog.Level(-8)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			label, exists := levelNames[level]
			if !exists {
				label = level.String()
			}
			a.Value = slog.StringValue(label)
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Options controls Init.
type Options struct {
	// LogDir is the directory the rotated JSON log is written under.
	LogDir string
	// Verbose enables LevelTrace/Debug output; otherwise LevelInfo.
	Verbose bool
	// MaxSizeMB, MaxBackups, MaxAgeDays configure lumberjack rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init sets up the global structured (JSON, rotated file) and console (text,
// stderr) loggers. Safe to call multiple times; only the first call takes
// effect.
func Init(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		if opts.LogDir == "" {
			opts.LogDir = "logs"
		}
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			initErr = fmt.Errorf("create log directory: %w", err)
			return
		}

		level := slog.LevelInfo
		if opts.Verbose {
			level = LevelTrace
		}
		currentLevel.Set(level)

		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 7
		}
		maxAge := opts.MaxAgeDays
		if maxAge == 0 {
			maxAge = 30
		}

		rotatorMu.Lock()
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(opts.LogDir, "gigglepipe.log"),
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
		rotatorMu.Unlock()

		structuredHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: replaceAttr,
		})
		consoleHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: replaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(structuredHandler)
		consoleLogger = slog.New(consoleHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)
		initialized = true
	})
	return initErr
}

// IsInitialized reports whether Init has completed.
func IsInitialized() bool { return initialized }

// SetLevel changes the level for both loggers at runtime.
func SetLevel(level slog.Level) { currentLevel.Set(level) }

// Structured returns the JSON (file) logger, falling back to slog.Default
// before Init is called.
func Structured() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if structuredLogger == nil {
		return slog.Default()
	}
	return structuredLogger
}

// Console returns the human-readable (stderr) logger.
func Console() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if consoleLogger == nil {
		return slog.Default()
	}
	return consoleLogger
}

// Close flushes and closes the rotated log file. Call during graceful
// shutdown.
func Close() error {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	if rotator == nil {
		return nil
	}
	return rotator.Close()
}

// With returns a logger derived from Structured() with the given attrs,
// convenient for per-component loggers (e.g. With("component", "fleet")).
func With(args ...any) *slog.Logger { return Structured().With(args...) }

var _ io.Writer = (*lumberjack.Logger)(nil)
