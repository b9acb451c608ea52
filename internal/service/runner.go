package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

const (
	// eventBuffer is the capacity of the event channel. Senders block when
	// it is full, so events are never dropped.
	eventBuffer = 64
	// maxLine is the longest line forwarded, longer lines are truncated.
	maxLine = 1024 * 1024
	// outputGrace is how long the output is still read after the process
	// exited. Processes it started may hold the pipes open forever.
	outputGrace = 2 * time.Second
)

// Child is a handle to a spawned sidecar process.
type Child interface {
	PID() int
	Kill() error
}

// Command describes how to spawn the sidecar. Env entries are added to the
// environment inherited from the current process.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Runner spawns the sidecar binary as an operating system process.
type Runner struct {
	proto Command
}

func NewRunner(proto Command) *Runner {
	return &Runner{
		proto: Command{
			Path: proto.Path,
			Args: append([]string(nil), proto.Args...),
			Env:  append([]string(nil), proto.Env...),
			Dir:  proto.Dir,
		},
	}
}

// Spawn starts the process and returns the channel of its events. The channel
// is closed after EventTerminated has been sent.
//
// The process is NOT bound to ctx, it runs until killed or until it exits on
// its own. The ctx is used for logging only.
func (r *Runner) Spawn(ctx context.Context) (<-chan Event, Child, error) {
	path := ResolveSidecar(r.proto.Path)
	cmd := exec.Command(path, r.proto.Args...)
	cmd.Env = append(os.Environ(), r.proto.Env...)
	cmd.Dir = r.proto.Dir
	cmd.WaitDelay = outputGrace

	events := make(chan Event, eventBuffer)
	stdout := &lineWriter{typ: EventStdout, events: events}
	stderr := &lineWriter{typ: EventStderr, events: events}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	slog.DebugContext(ctx, "sidecar started", "path", path, "pid", cmd.Process.Pid)

	p := &process{cmd: cmd}
	go p.wait(ctx, events, stdout, stderr)
	return events, p, nil
}

// ResolveSidecar returns the path of a sidecar binary. A bare name is looked
// up next to the current executable first, then in PATH when the process is
// started.
func ResolveSidecar(name string) string {
	if name == "" || filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	candidates := []string{name}
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		candidates = append(candidates, name+".exe")
	}
	dir := filepath.Dir(exe)
	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return name
}

type process struct {
	cmd *exec.Cmd
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

// Kill sends SIGKILL to the process. Killing a process which already exited
// is not an error.
func (p *process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// wait reaps the process and sends the termination event. The output
// copied so far is flushed first, so EventTerminated is always last.
func (p *process) wait(ctx context.Context, events chan<- Event, outputs ...*lineWriter) {
	defer close(events)

	err := p.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.WarnContext(ctx, "sidecar output still open after exit: closed", "grace", outputGrace.String())
	}
	for _, w := range outputs {
		w.flush()
	}
	events <- terminated(p.cmd.ProcessState, err)
}

// lineWriter splits the output of one stream into line events. The exec
// package calls Write from a single goroutine per stream and is done with
// it when Wait returns.
type lineWriter struct {
	typ     EventType
	events  chan<- Event
	buf     []byte
	discard bool // rest of a truncated line
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		end := i
		if i < 0 {
			end = len(p)
		}
		if !w.discard {
			w.add(p[:end])
		}
		if i < 0 {
			break
		}
		if w.discard {
			w.discard = false
		} else {
			w.emit()
		}
		p = p[i+1:]
	}
	return n, nil
}

// add appends to the current line. A line reaching past maxLine is sent
// truncated right away, the rest of it is dropped.
func (w *lineWriter) add(b []byte) {
	room := maxLine - len(w.buf)
	if len(b) <= room {
		w.buf = append(w.buf, b...)
		return
	}
	w.buf = append(w.buf, b[:room]...)
	w.emit()
	w.events <- Event{
		Type:    EventError,
		Message: fmt.Sprintf("%s: line longer than %d bytes, truncated", w.typ, maxLine),
	}
	w.discard = true
}

func (w *lineWriter) emit() {
	line := bytes.TrimSuffix(w.buf, []byte("\r"))
	w.buf = nil
	w.events <- Event{Type: w.typ, Line: line}
}

// flush sends the last line if it had no line feed.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit()
	}
	w.discard = false
}

func terminated(state *os.ProcessState, waitErr error) Event {
	ev := Event{Type: EventTerminated}
	if state == nil {
		if waitErr != nil {
			ev.Message = waitErr.Error()
		}
		return ev
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := int(ws.Signal())
		ev.Signal = &sig
		return ev
	}
	code := state.ExitCode()
	ev.Code = &code
	return ev
}
