package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/storyloom/sidecar/internal/model"
)

// CommandFromConfig builds the spawn command of the sidecar. Env values
// starting with $ are expanded from the current environment.
func CommandFromConfig(cfg model.Sidecar) Command {
	env := make([]string, 0, len(cfg.Env))
	for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
		v := cfg.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, k+"="+v)
	}
	return Command{
		Path: cfg.Name,
		Args: cfg.Args,
		Env:  env,
	}
}

// SettingsFromConfig resolves the data directory and the ready timeout.
func SettingsFromConfig(cfg model.Config) (Settings, error) {
	dir, err := cfg.App.ResolveDataDir()
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidAppDataDir, err)
	}
	timeout, err := cfg.Sidecar.ReadyTimeoutDuration()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		AppDataDir:   dir,
		ReadyTimeout: timeout,
	}, nil
}

// SupervisorFromConfig wires a Supervisor running the configured sidecar
// and publishing its events on emitter.
func SupervisorFromConfig(ctx context.Context, cfg model.Config, emitter Emitter) (*Supervisor, error) {
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Handshake.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	client, err := NewHandshakeClient(cfg.Handshake.URL, timeout)
	if err != nil {
		return nil, fmt.Errorf("initializing handshake client: %w", err)
	}

	cmd := CommandFromConfig(cfg.Sidecar)
	slog.DebugContext(ctx, "sidecar supervisor configured",
		"sidecar", cmd.Path,
		"handshake_url", client.URL(),
		"app_data_dir", settings.AppDataDir,
		"ready_timeout", settings.ReadyTimeout.String())

	return NewSupervisor(NewRunner(cmd), client, emitter, settings), nil
}
