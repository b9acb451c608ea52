package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/storyloom/sidecar/internal/log"
	"github.com/storyloom/sidecar/internal/readiness"
)

// Spawner starts a sidecar process. *Runner implements it.
type Spawner interface {
	Spawn(ctx context.Context) (<-chan Event, Child, error)
}

// Handshaker delivers the init payload to a ready sidecar. *HandshakeClient
// implements it.
type Handshaker interface {
	Init(ctx context.Context, payload InitPayload) error
}

// Recorder keeps the history of start attempts. *journal.Journal
// implements it.
type Recorder interface {
	Begin(ctx context.Context, run string, pid int) error
	Finish(ctx context.Context, run string, cause error) error
}

// Settings are the per supervisor parameters of a sidecar start.
type Settings struct {
	// AppDataDir is sent to the sidecar in the handshake.
	AppDataDir string
	// ReadyTimeout bounds the wait for the first line of output, zero
	// waits forever.
	ReadyTimeout time.Duration
}

// Supervisor owns the lifecycle of a single sidecar process.
type Supervisor struct {
	spawner    Spawner
	handshaker Handshaker
	emitter    Emitter
	settings   Settings
	recorder   Recorder

	// sem serializes Start, closed is guarded by it
	sem    chan struct{}
	closed bool

	store childStore
	wg    sync.WaitGroup
}

func NewSupervisor(spawner Spawner, handshaker Handshaker, emitter Emitter, settings Settings) *Supervisor {
	return &Supervisor{
		spawner:    spawner,
		handshaker: handshaker,
		emitter:    emitter,
		settings:   settings,
		sem:        make(chan struct{}, 1),
	}
}

// WithRecorder records every start attempt which spawns a sidecar, or
// fails to, in r.
func (s *Supervisor) WithRecorder(r Recorder) *Supervisor {
	s.recorder = r
	return s
}

// Start spawns the sidecar, waits until it writes its first line to stdout
// and then sends the handshake. If a sidecar is already running, Start
// does nothing and returns nil.
//
// The sidecar outlives a failed readiness wait or handshake: the handle is
// kept and Stop must be used to get rid of it.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	if s.closed {
		return ErrSupervisorClosed
	}

	run := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("sidecar_run", run))

	var events <-chan Event
	child, spawned, err := s.store.spawnIfEmpty(func() (Child, error) {
		ch, child, err := s.spawner.Spawn(ctx)
		events = ch
		return child, err
	})
	switch {
	case err != nil:
		slog.ErrorContext(ctx, "failed to spawn sidecar", "error", err)
		err = fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		s.record(ctx, run, 0, err)
		return err
	case !spawned:
		slog.InfoContext(ctx, "sidecar is already running", "pid", child.PID())
		return nil
	}
	defer func() {
		s.record(ctx, run, child.PID(), err)
	}()

	ctx = log.ContextAttrs(ctx, slog.Int("pid", child.PID()))
	slog.InfoContext(ctx, "sidecar spawned")

	sender, receiver := readiness.New()
	bridgeCtx := context.WithoutCancel(ctx)
	bridge := NewBridge(s.emitter, sender, func() {
		if s.store.release(child) {
			slog.DebugContext(bridgeCtx, "sidecar handle released")
		}
	})
	s.wg.Go(func() {
		bridge.Run(bridgeCtx, events)
	})

	slog.InfoContext(ctx, "waiting for sidecar to be ready", "timeout", s.settings.ReadyTimeout.String())
	werr := receiver.Wait(ctx, s.settings.ReadyTimeout)
	switch {
	case errors.Is(werr, readiness.ErrTimeout):
		slog.ErrorContext(ctx, "sidecar did not become ready", "error", werr)
		return fmt.Errorf("%w after %s", ErrReadinessTimeout, s.settings.ReadyTimeout)
	case errors.Is(werr, readiness.ErrClosed):
		slog.ErrorContext(ctx, "sidecar exited before it was ready")
		return ErrReadinessChannelClosed
	case werr != nil:
		return fmt.Errorf("waiting for sidecar: %w", werr)
	}

	if !utf8.ValidString(s.settings.AppDataDir) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidAppDataDir, s.settings.AppDataDir)
	}
	payload := InitPayload{AppDataDir: s.settings.AppDataDir}
	if err := s.handshaker.Init(ctx, payload); err != nil {
		slog.ErrorContext(ctx, "sidecar handshake failed", "error", err)
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	slog.InfoContext(ctx, "sidecar initialized", "app_data_dir", payload.AppDataDir)
	return nil
}

// record stores the outcome of a start attempt. Failures to record are
// logged only, they never fail the start.
func (s *Supervisor) record(ctx context.Context, run string, pid int, cause error) {
	if s.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.recorder.Begin(ctx, run, pid); err != nil {
		slog.WarnContext(ctx, "recording sidecar run", "error", err)
		return
	}
	if err := s.recorder.Finish(ctx, run, cause); err != nil {
		slog.WarnContext(ctx, "recording sidecar run", "error", err)
	}
}

// Stop kills the running sidecar. It returns nil if no sidecar runs. The
// handle is released even when the kill fails.
func (s *Supervisor) Stop(ctx context.Context) error {
	child := s.store.take()
	if child == nil {
		slog.DebugContext(ctx, "sidecar is not running: nothing to stop")
		return nil
	}
	ctx = log.ContextAttrs(ctx, slog.Int("pid", child.PID()))
	if err := child.Kill(); err != nil {
		slog.ErrorContext(ctx, "failed to kill sidecar", "error", err)
		return fmt.Errorf("%w: %w", ErrKillFailed, err)
	}
	slog.InfoContext(ctx, "sidecar killed")
	return nil
}

// Running reports whether a sidecar handle is held.
func (s *Supervisor) Running() bool {
	return s.store.present()
}

// Shutdown stops the sidecar and waits until its events have been
// forwarded. Any later Start returns ErrSupervisorClosed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	// kill first, so a Start blocked on the readiness wait returns quickly
	err := s.Stop(ctx)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	s.closed = true
	<-s.sem

	// a Start may have spawned a new sidecar in between
	err = errors.Join(err, s.Stop(ctx))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
