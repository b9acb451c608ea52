// Package service supervises the sidecar process of the application.
//
// Overview
// The Supervisor keeps at most one sidecar running. Start spawns it through
// a Spawner, waits until the sidecar prints its first line and then posts
// the application data directory to it. Stop kills it.
//
// Runner is a thin wrapper around os/exec:
//   - resolves the binary next to the executable or in PATH
//   - scans stdout and stderr line by line
//   - waits for the process and reports its exit code or signal
//   - exposes everything as a channel of Event values
//
// Data flow:
//
//	Supervisor            Runner{cmd}             Bridge              Emitter
//	    |                     |                      |                    |
//	Start -> Spawn() -------->| os/exec.Start        |                    |
//	    | store child         | pump goroutine ----->| Run(events)        |
//	    | wait ready <--------|----- first stdout ---| Signal()           |
//	    |                     |                      | Emit(stdout) ----->|
//	    | Init(appDataDir) -> HandshakeClient        |                    |
//	    |                     | (process exits) ---->| release child      |
//	    |                     |                      | Emit(terminated) ->|
//
// Invariants:
//   - At most one sidecar per Supervisor at a time.
//   - The handshake is never sent before the readiness signal.
//   - The readiness signal fires at most once per spawn.
//   - Every event of the process is published, in order.
//   - A failed readiness wait or handshake keeps the sidecar running.
package service
