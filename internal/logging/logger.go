// Package logging provides structured logging for the save sync engine.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Options configures the global logger.
type Options struct {
	// Level is the minimum level written. Defaults to LevelInfo.
	Level LogLevel
	// Output defaults to os.Stderr.
	Output io.Writer
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// AddSource includes file and line in every entry.
	AddSource bool
}

// Logger writes leveled entries with a context map, backed by slog.
type Logger struct {
	slog *slog.Logger
}

var (
	mu     sync.RWMutex
	global *Logger
)

// Init replaces the global logger.
func Init(opts Options) *Logger {
	l := New(opts)
	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// New builds a logger without installing it globally.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Level == "" {
		opts.Level = LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level.slogLevel(),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	return &Logger{slog: slog.New(handler)}
}

// Get returns the global logger, creating a JSON stderr logger on first use.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = New(Options{Level: LevelInfo, JSON: true})
	}
	return global
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
// Unknown names map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds ctx to every entry.
func (l *Logger) With(ctx map[string]interface{}) *Logger {
	return &Logger{slog: l.slog.With(attrs(ctx)...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.slog.Debug(message, attrs(merge(context...))...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.slog.Info(message, attrs(merge(context...))...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.slog.Warn(message, attrs(merge(context...))...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	args := attrs(merge(context...))
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.slog.Error(message, args...)
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	args := attrs(merge(context...))
	args = append(args, slog.String("code", code))
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.slog.Error(message, args...)
}

// merge combines context maps; later keys win.
func merge(context ...map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	if len(context) == 1 {
		return context[0]
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// attrs turns a context map into slog arguments in stable key order.
func attrs(ctx map[string]interface{}) []any {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, slog.Any(k, ctx[k]))
	}
	return args
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
