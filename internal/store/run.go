package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run statuses.
const (
	RunFinished = "finished"
	RunFaulted  = "faulted"
)

// Run is one logged execution of a cached artifact.
type Run struct {
	ID        string
	GraphHash string
	Entry     string
	Status    string
	GasUsed   int64
	FaultCode string // empty unless Status is faulted
	TraceHash string
	Trace     []byte // canonical JSON
}

// RecordRun appends an execution record. The referenced artifact must
// already be cached (foreign key constraint). Duplicate run ids are
// silently ignored for idempotent re-recording.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, graph_hash, entry, status, gas_used, fault_code, trace_hash, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.GraphHash,
		run.Entry,
		run.Status,
		run.GasUsed,
		run.FaultCode,
		run.TraceHash,
		string(run.Trace),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// GetRun returns a run by id, or found=false.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, bool, error) {
	var (
		run   Run
		trace string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, graph_hash, entry, status, gas_used, fault_code, trace_hash, trace
		FROM runs
		WHERE id = ?
	`, id).Scan(&run.ID, &run.GraphHash, &run.Entry, &run.Status,
		&run.GasUsed, &run.FaultCode, &run.TraceHash, &trace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get run: %w", err)
	}
	run.Trace = []byte(trace)
	return &run, true, nil
}

// ListRuns returns all runs for a document hash, oldest first.
func (s *Store) ListRuns(ctx context.Context, graphHash string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, graph_hash, entry, status, gas_used, fault_code, trace_hash, trace
		FROM runs
		WHERE graph_hash = ?
		ORDER BY rowid
	`, graphHash)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run   Run
			trace string
		)
		if err := rows.Scan(&run.ID, &run.GraphHash, &run.Entry, &run.Status,
			&run.GasUsed, &run.FaultCode, &run.TraceHash, &trace); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		run.Trace = []byte(trace)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}
