package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/storyloom/sidecar/internal/machineid"
	"github.com/storyloom/sidecar/internal/search"
)

// Names of the commands exposed to the UI.
const (
	CmdInitializeSidecar = "initialize_sidecar"
	CmdShutdownSidecar   = "shutdown_sidecar"
	CmdSearchInFiles     = "search_in_files"
	CmdGetMachineID      = "get_machine_id"
)

// Sidecar is the lifecycle part of *service.Supervisor the commands use.
type Sidecar interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SearchArgs are the arguments of search_in_files.
type SearchArgs struct {
	Keyword string        `json:"keyword"`
	Config  search.Config `json:"config"`
}

// RegisterCommands adds the application commands to r.
func RegisterCommands(r *Registry, sidecar Sidecar) {
	r.Register(CmdInitializeSidecar, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, sidecar.Start(ctx)
	})
	r.Register(CmdShutdownSidecar, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, sidecar.Stop(ctx)
	})
	r.Register(CmdSearchInFiles, searchInFiles)
	r.Register(CmdGetMachineID, func(context.Context, json.RawMessage) (any, error) {
		return machineid.Get()
	})
}

func searchInFiles(ctx context.Context, raw json.RawMessage) (any, error) {
	var args SearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Keyword != "" && args.Config.TargetDir == "" {
		return nil, errors.New("config.target_dir is empty")
	}
	return search.InFiles(ctx, args.Keyword, args.Config)
}
