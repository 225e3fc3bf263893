package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

var levelVar = new(slog.LevelVar)

// L is the process-wide JSON logger. Setup may replace it at startup.
var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Setup applies the level and, when File is set, tees output into a rotating
// log file. The returned closer flushes the file; it is a no-op otherwise.
func Setup(opts Options) io.Closer {
	SetLevel(opts.Level)

	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}

	L = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(L)
	return closer
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// FromContext adds request_id if present.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return L.With("request_id", id)
	}
	return L
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
