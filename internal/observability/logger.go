package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level   string
	Verbose bool   // adds source locations
	File    string // empty or "console" logs to stdout
	Format  string // "text" (default) or "json"
}

type Logger struct {
	base      *slog.Logger
	component string
}

// Init installs the process-wide slog default. Component loggers created
// afterwards write through it.
func Init(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Verbose,
	}
	out := logOutput(cfg.File)
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func logOutput(path string) io.Writer {
	if path == "" || path == "console" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   filepath.ToSlash(path),
		MaxSize:    5, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func Component(name string) *Logger {
	return &Logger{base: slog.Default(), component: name}
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...any) {
	l.log(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	l.log(ctx, slog.LevelInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	l.log(ctx, slog.LevelWarn, msg, attrs...)
}

func (l *Logger) Error(ctx context.Context, msg string, attrs ...any) {
	l.log(ctx, slog.LevelError, msg, attrs...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	args := make([]any, 0, len(attrs)+6)
	args = append(args, "component", l.component)
	args = append(args, "function", caller(callerDepth))
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if updateID, ok := UpdateIDFromContext(ctx); ok {
		args = append(args, "update_id", updateID)
	}
	args = append(args, attrs...)
	l.base.Log(ctx, level, msg, args...)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// callerDepth skips runtime.Callers, caller, Logger.log and the exported
// level method, landing on the function that logged.
const callerDepth = 4

func caller(depth int) string {
	pc := make([]uintptr, 1)
	n := runtime.Callers(depth, pc)
	if n == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	fn := frame.Function
	if fn == "" {
		return "unknown"
	}
	parts := strings.Split(fn, "/")
	return parts[len(parts)-1]
}
