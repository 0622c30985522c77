// Package logging configures the process-wide slog logger shared by the agent
// and the server.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field names.
const (
	KeyTaskID     = "taskId"
	KeyTaskName   = "taskName"
	KeyEndpointID = "endpointId"
	KeyComponent  = "component"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

// Package-level loggers are built with L at init time, before any config is
// read. They all resolve through sink so a later Init reaches them.
var sink atomic.Pointer[slog.Handler]

func init() {
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	sink.Store(&h)
	slog.SetDefault(slog.New(deferred{}))
}

// deferred replays its attrs and groups onto whatever handler sink holds at
// the time of each call.
type deferred struct {
	wrap []func(slog.Handler) slog.Handler
}

func (d deferred) resolve() slog.Handler {
	h := *sink.Load()
	for _, f := range d.wrap {
		h = f(h)
	}
	return h
}

func (d deferred) Enabled(ctx context.Context, level slog.Level) bool {
	return (*sink.Load()).Enabled(ctx, level)
}

func (d deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d deferred) WithGroup(name string) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (d deferred) with(f func(slog.Handler) slog.Handler) deferred {
	wrap := make([]func(slog.Handler) slog.Handler, len(d.wrap), len(d.wrap)+1)
	copy(wrap, d.wrap)
	return deferred{wrap: append(wrap, f)}
}

// Init replaces the output of every logger. format is "json" or "text",
// level one of debug, info, warn or error. A nil output means stdout.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	sink.Store(&h)
}

// L returns a logger tagged with a component name.
func L(component string) *slog.Logger {
	return slog.New(deferred{}).With(slog.String(KeyComponent, component))
}

func WithTask(logger *slog.Logger, taskID int64, taskName string) *slog.Logger {
	return logger.With(slog.Int64(KeyTaskID, taskID), slog.String(KeyTaskName, taskName))
}

func WithEndpoint(logger *slog.Logger, endpoint string) *slog.Logger {
	return logger.With(slog.String(KeyEndpointID, endpoint))
}

// Setup applies the logging section of a config. With a file, output goes to
// a RotatingWriter, also copied to stdout when attachConsole is set. The
// returned closer is never nil.
func Setup(format, level, file string, maxSizeMB, maxBackups int, attachConsole bool) (io.Closer, error) {
	if file == "" {
		Init(format, level, os.Stdout)
		return nopCloser{}, nil
	}

	rw, err := NewRotatingWriter(file, maxSizeMB, maxBackups)
	if err != nil {
		Init(format, level, os.Stdout)
		return nopCloser{}, err
	}

	var out io.Writer = rw
	if attachConsole {
		out = io.MultiWriter(os.Stdout, rw)
	}
	Init(format, level, out)
	return rw, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
