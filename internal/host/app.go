// Package host connects the UI to the sidecar supervisor and the other
// native commands of the application.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storyloom/sidecar/internal/event"
	"github.com/storyloom/sidecar/internal/journal"
	"github.com/storyloom/sidecar/internal/model"
	"github.com/storyloom/sidecar/internal/service"
)

// shutdownTimeout bounds the teardown of the sidecar on exit.
const shutdownTimeout = 5 * time.Second

// App owns the event bus, the sidecar supervisor and the command registry.
type App struct {
	bus        *event.Bus
	supervisor *service.Supervisor
	registry   *Registry
	journal    *journal.Journal
}

// New wires an App from cfg.
func New(ctx context.Context, cfg model.Config) (*App, error) {
	bus := event.NewBus()
	supervisor, err := service.SupervisorFromConfig(ctx, cfg, bus)
	if err != nil {
		return nil, err
	}
	app := NewApp(bus, supervisor)
	if cfg.Service.Journal == "" {
		return app, nil
	}

	j, err := OpenJournal(ctx, cfg.Service.Journal)
	if err != nil {
		return nil, err
	}
	supervisor.WithRecorder(j)
	app.journal = j
	return app, nil
}

// OpenJournal opens the journal of sidecar runs at path, creating its
// directory if needed.
func OpenJournal(ctx context.Context, path string) (*journal.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	j, err := journal.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return j, nil
}

// NewApp returns an App around an existing bus and supervisor.
func NewApp(bus *event.Bus, supervisor *service.Supervisor) *App {
	registry := NewRegistry()
	RegisterCommands(registry, supervisor)
	return &App{
		bus:        bus,
		supervisor: supervisor,
		registry:   registry,
	}
}

func (a *App) Bus() *event.Bus {
	return a.bus
}

func (a *App) Registry() *Registry {
	return a.registry
}

// Close releases the journal, if any. Call it after Run.
func (a *App) Close() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}

// Run serves the UI over r and w until the input ends or ctx is done, then
// shuts the sidecar down.
func (a *App) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	srv := NewServer(a.registry, r, w)
	id := a.bus.SubscribeAll(srv.Publish)
	defer a.bus.Unsubscribe(id)

	slog.InfoContext(ctx, "serving commands", "commands", a.registry.Names())
	err := srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := a.supervisor.Shutdown(shutdownCtx); serr != nil {
		slog.ErrorContext(ctx, "shutting down sidecar", "error", serr)
		err = errors.Join(err, serr)
	}
	return err
}
