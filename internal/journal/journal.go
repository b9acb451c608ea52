// Package journal keeps the history of sidecar start attempts in a SQLite
// database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Run is one start attempt of the sidecar.
type Run struct {
	UUID          string
	PID           int
	StartedAt     time.Time
	InProgress    bool
	Success       *bool
	FinishedAt    *time.Time
	FailureReason *string
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, pid: %d, started_at: %s, in_progress: %t",
		r.UUID, r.PID, r.StartedAt.Format(time.RFC3339), r.InProgress)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

// Journal records sidecar runs. It is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			pid INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			finished_at INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "journal: rollback failed", slog.String("uuid", uuid), slog.Any("error", err))
	}
}

// Begin records that the run identified by uuid has spawned the sidecar
// with pid. Beginning a run in progress again is a no-op, a finished one
// returns ErrAlreadyFinished.
func (j *Journal) Begin(ctx context.Context, uuid string, pid int) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer j.rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil:
		return ErrAlreadyFinished
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, pid, started_at, in_progress) VALUES (?,?,?,?);`,
		uuid, pid, j.now().UnixMilli(), true,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish records the outcome of the run identified by uuid, a nil cause
// is a success.
func (j *Journal) Finish(ctx context.Context, uuid string, cause error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer j.rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case !inProgress:
		return ErrAlreadyFinished
	}

	var reason *string
	if cause != nil {
		s := cause.Error()
		reason = &s
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			in_progress = false,
			success = ?,
			finished_at = ?,
			failure_reason = ?
		WHERE uuid = ?;
		`, cause == nil, j.now().UnixMilli(), reason, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const columns = `id, uuid, pid, started_at, in_progress, success, finished_at, failure_reason`

// Get returns the run identified by uuid or ErrNotFound.
func (j *Journal) Get(ctx context.Context, uuid string) (RunRow, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM runs WHERE uuid=?`, uuid,
	)
	r, err := scanRow(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// List returns up to limit most recent runs, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (RunRow, error) {
	var (
		r          RunRow
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := s.Scan(
		&r.ID,
		&r.UUID,
		&r.PID,
		&startedAt,
		&r.InProgress,
		&r.Success,
		&finishedAt,
		&r.FailureReason,
	)
	if err != nil {
		return RunRow{}, err
	}
	r.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}
