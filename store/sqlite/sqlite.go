// Package sqlite implements a cell execution event journal on pure-Go
// SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/nbexec"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets a structured logger for the journal.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Journal records cell_execution events into a local SQLite file.
// It implements nbexec.EventEmitter; emission is best-effort and
// failures are only logged.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ nbexec.EventEmitter = (*Journal)(nil)

// New creates a Journal using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers.
func New(dbPath string, opts ...Option) *Journal {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(j)
	}
	j.logger.Debug("sqlite: journal opened", "path", dbPath)
	return j
}

// Init creates the events table.
func (j *Journal) Init(ctx context.Context) error {
	start := time.Now()
	_, err := j.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cell_execution_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schema_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		cell_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		success INTEGER,
		kernel_error TEXT,
		timestamp TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		j.logger.Error("sqlite: journal init failed", "error", err, "duration", time.Since(start))
		return err
	}
	j.logger.Debug("sqlite: journal init completed", "duration", time.Since(start))
	return nil
}

// Emit records one event. Implements nbexec.EventEmitter.
func (j *Journal) Emit(ctx context.Context, event nbexec.CellExecutionEvent) {
	var success *int64
	if event.Success != nil {
		v := int64(0)
		if *event.Success {
			v = 1
		}
		success = &v
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO cell_execution_events
		(schema_id, event_type, cell_id, document_id, success, kernel_error, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nbexec.CellExecutionSchemaID, event.EventType, event.CellID, event.DocumentID,
		success, event.KernelError, event.Timestamp, time.Now().Unix())
	if err != nil {
		j.logger.Error("sqlite: journal emit failed", "event_type", event.EventType, "error", err)
	}
}

// Events returns the journaled events for a document, oldest first.
// A zero limit returns everything.
func (j *Journal) Events(ctx context.Context, documentID string, limit int) ([]nbexec.CellExecutionEvent, error) {
	query := `SELECT event_type, cell_id, document_id, success, kernel_error, timestamp
		FROM cell_execution_events WHERE document_id = ? ORDER BY id`
	args := []any{documentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []nbexec.CellExecutionEvent
	for rows.Next() {
		var e nbexec.CellExecutionEvent
		var success sql.NullInt64
		if err := rows.Scan(&e.EventType, &e.CellID, &e.DocumentID, &success, &e.KernelError, &e.Timestamp); err != nil {
			return nil, err
		}
		if success.Valid {
			v := success.Int64 == 1
			e.Success = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
