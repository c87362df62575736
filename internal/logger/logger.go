package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/baaaht/chatmesh/internal/config"
)

// Level represents the log level
type Level slog.Level

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// String returns the string representation of the log level
func (l Level) String() string {
	return slog.Level(l).String()
}

// Logger wraps slog.Logger. Loggers derived with With and WithGroup share
// the root's level, so SetLevel on any of them takes effect everywhere.
type Logger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	closer io.Closer // set only on the root logger when writing to a file
}

// New creates a new logger with the specified configuration
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	l, err := NewWithWriter(writer, level, cfg.Format)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	l.closer = closer
	return l, nil
}

// NewWithWriter creates a logger writing to w in the given format
func NewWithWriter(w io.Writer, level Level, format string) (*Logger, error) {
	lv := new(slog.LevelVar)
	lv.Set(slog.Level(level))
	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}

	return &Logger{logger: slog.New(handler), level: lv}, nil
}

// NewDefault creates a new logger with default settings
func NewDefault() (*Logger, error) {
	return New(config.DefaultLoggingConfig())
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	l, _ := NewWithWriter(io.Discard, LevelError, "text")
	return l
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr", "":
		return os.Stderr, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, file, nil
}

// ParseLevel converts a string log level to a Level
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// With returns a new logger with additional key-value pairs.
// Derived loggers must not be closed; only the root owns the output file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithGroup returns a new logger with a group prefix
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{logger: l.logger.WithGroup(name), level: l.level}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Slog exposes the underlying slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// SetLevel changes the log level for this logger and every logger sharing its root
func (l *Logger) SetLevel(level Level) {
	l.level.Set(slog.Level(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return Level(l.level.Level())
}

// Enabled returns true if logging is enabled for the given level
func (l *Logger) Enabled(level Level) bool {
	return slog.Level(level) >= l.level.Level()
}

// String returns a string representation of the logger
func (l *Logger) String() string {
	return fmt.Sprintf("Logger{Level: %s}", l.GetLevel())
}

// Close closes the output file, if any. Closing a derived logger is a no-op.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// global logger instance
var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobal creates a logger from cfg and installs it as the global logger
func InitGlobal(cfg config.LoggingConfig) (*Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	SetGlobal(l)
	return l, nil
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = NewWithWriter(os.Stderr, LevelInfo, "text")
	}
	return globalLogger
}

// SetGlobal sets the global logger instance
func SetGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Debug logs a debug message using the global logger
func Debug(msg string, args ...any) {
	Global().Debug(msg, args...)
}

// Info logs an info message using the global logger
func Info(msg string, args ...any) {
	Global().Info(msg, args...)
}

// Warn logs a warning message using the global logger
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}

// Error logs an error message using the global logger
func Error(msg string, args ...any) {
	Global().Error(msg, args...)
}

// With returns a new global logger with additional key-value pairs
func With(args ...any) *Logger {
	return Global().With(args...)
}
