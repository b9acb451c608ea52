package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	Stderr  = "stderr"
	Stdout  = "stdout"
	Discard = "discard"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler adds attributes stored in a context by ContextAttrs to
// every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	} else {
		// never append into a slice a parent context may still share
		a = append(make([]slog.Attr, 0, len(a)+len(attrs)), a...)
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// New returns a JSON logger writing to w.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}

// Output opens the log destination: stderr, stdout, discard or a file path
// opened for appending. The returned close func is never nil.
func Output(dest string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch dest {
	case "", Stderr:
		return os.Stderr, nop, nil
	case Stdout:
		return os.Stdout, nop, nil
	case Discard:
		return io.Discard, nop, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nop, fmt.Errorf("opening log file: %w", err)
	}
	return f, f.Close, nil
}
