package service

import "errors"

var (
	ErrSpawnFailed            = errors.New("failed to spawn sidecar")
	ErrReadinessTimeout       = errors.New("timed out waiting for sidecar to start")
	ErrReadinessChannelClosed = errors.New("failed to receive ready signal from sidecar: channel closed")
	ErrHandshakeFailed        = errors.New("sidecar handshake failed")
	ErrKillFailed             = errors.New("failed to kill sidecar process")
	ErrInvalidAppDataDir      = errors.New("invalid app data dir")
	ErrSupervisorClosed       = errors.New("sidecar supervisor is shut down")
)
