package service

import (
	"context"
	"log/slog"
	"strings"
)

// ReadySignal is the one-shot sender the Bridge fires on the first stdout
// line. *readiness.Sender implements it.
type ReadySignal interface {
	// Signal fires the signal and reports whether this call fired it.
	Signal() bool
	// Abandon closes the signal without firing it.
	Abandon()
}

// Bridge forwards sidecar events to the application and turns the first
// line of standard output into the readiness signal.
type Bridge struct {
	emitter Emitter
	ready   ReadySignal
	onExit  func()
}

// NewBridge returns a bridge publishing on emitter. onExit, if not nil, is
// called when the termination event arrives and before it is published.
func NewBridge(emitter Emitter, ready ReadySignal, onExit func()) *Bridge {
	return &Bridge{
		emitter: emitter,
		ready:   ready,
		onExit:  onExit,
	}
}

// Run consumes events until the channel is closed. A signal which has not
// been fired by then is abandoned, so waiters observe a closed channel.
func (b *Bridge) Run(ctx context.Context, events <-chan Event) {
	defer b.ready.Abandon()
	for ev := range events {
		b.handle(ctx, ev)
	}
	slog.DebugContext(ctx, "sidecar event stream closed")
}

func (b *Bridge) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventStdout:
		line := decode(ev.Line)
		if b.ready.Signal() {
			slog.InfoContext(ctx, "sidecar sent first output: ready")
		}
		slog.DebugContext(ctx, "sidecar stdout", "line", line)
		b.emitter.Emit(TopicStdout, line)
	case EventStderr:
		line := decode(ev.Line)
		slog.DebugContext(ctx, "sidecar stderr", "line", line)
		b.emitter.Emit(TopicStderr, line)
	case EventError:
		slog.ErrorContext(ctx, "sidecar error", "error", ev.Message)
		b.emitter.Emit(TopicStderr, ev.Message)
	case EventTerminated:
		attrs := []any{}
		if ev.Code != nil {
			attrs = append(attrs, "code", *ev.Code)
		}
		if ev.Signal != nil {
			attrs = append(attrs, "signal", *ev.Signal)
		}
		slog.InfoContext(ctx, "sidecar terminated", attrs...)
		if b.onExit != nil {
			b.onExit()
		}
		b.emitter.Emit(TopicTerminated, TerminatedPayload{Code: ev.Code, Signal: ev.Signal})
	default:
		slog.WarnContext(ctx, "unknown sidecar event: ignoring", "type", ev.Type.String())
	}
}

// decode converts raw process output to text, invalid UTF-8 sequences are
// replaced by U+FFFD.
func decode(line []byte) string {
	return strings.ToValidUTF8(string(line), "\uFFFD")
}
