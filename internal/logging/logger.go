// Package logging provides the leveled, structured logger shared by mybrowse
// components. Output goes to a log file under .mybrowse/logs and/or stderr.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger wraps a slog.Logger together with the file it writes to.
// A nil *Logger is valid and discards everything.
type Logger struct {
	sl   *slog.Logger
	file *os.File
	mu   *sync.Mutex
}

// Options configures New.
type Options struct {
	// Path is the log file. Empty disables file output.
	Path string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Stderr mirrors log lines to stderr.
	Stderr bool
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New creates a logger. Creates parent directories of the log file if they don't exist.
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var f *os.File

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if len(writers) == 0 {
		return Nop(), nil
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	})
	l := &Logger{sl: slog.New(handler), file: f, mu: &sync.Mutex{}}
	l.Debug("log started", "at", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewForDir creates a logger in dir/.mybrowse/logs/mybrowse.log.
// Returns a no-op logger if the file cannot be opened.
func NewForDir(dir, level string) *Logger {
	l, err := New(Options{
		Path:  filepath.Join(dir, ".mybrowse", "logs", "mybrowse.log"),
		Level: level,
	})
	if err != nil {
		return Nop()
	}
	return l
}

// NewWriter creates a logger writing text records to w. Used by tests.
func NewWriter(w io.Writer, level string) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{sl: slog.New(handler), mu: &sync.Mutex{}}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{}
}

// With returns a child logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.sl == nil {
		return l
	}
	return &Logger{sl: l.sl.With(args...), file: l.file, mu: l.mu}
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.sl == nil {
		return
	}
	l.sl.Log(context.Background(), level, msg, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Slog exposes the underlying slog.Logger, or a discarding one for a no-op logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.sl == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.sl
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
