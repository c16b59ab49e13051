// Package postgres implements a cell execution event journal on
// PostgreSQL.
//
// The Journal accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/nbexec"
)

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets a structured logger for the journal.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Journal records cell_execution events into PostgreSQL. It implements
// nbexec.EventEmitter; emission is best-effort and failures are only
// logged.
type Journal struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ nbexec.EventEmitter = (*Journal)(nil)

// New creates a Journal on an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Journal {
	j := &Journal{pool: pool, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Init creates the events table.
func (j *Journal) Init(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS cell_execution_events (
		id BIGSERIAL PRIMARY KEY,
		schema_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		cell_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		success BOOLEAN,
		kernel_error TEXT,
		timestamp TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// Emit records one event. Implements nbexec.EventEmitter.
func (j *Journal) Emit(ctx context.Context, event nbexec.CellExecutionEvent) {
	_, err := j.pool.Exec(ctx, `INSERT INTO cell_execution_events
		(schema_id, event_type, cell_id, document_id, success, kernel_error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		nbexec.CellExecutionSchemaID, event.EventType, event.CellID, event.DocumentID,
		event.Success, event.KernelError, event.Timestamp)
	if err != nil {
		j.logger.Error("postgres: journal emit failed", "event_type", event.EventType, "error", err)
	}
}

// Events returns the journaled events for a document, oldest first.
// A zero limit returns everything.
func (j *Journal) Events(ctx context.Context, documentID string, limit int) ([]nbexec.CellExecutionEvent, error) {
	query := `SELECT event_type, cell_id, document_id, success, kernel_error, timestamp
		FROM cell_execution_events WHERE document_id = $1 ORDER BY id`
	args := []any{documentID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []nbexec.CellExecutionEvent
	for rows.Next() {
		var e nbexec.CellExecutionEvent
		if err := rows.Scan(&e.EventType, &e.CellID, &e.DocumentID, &e.Success, &e.KernelError, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
