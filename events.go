package nbexec

import (
	"context"
	"log/slog"
)

// CellExecutionSchemaID identifies the cell execution event schema.
const CellExecutionSchemaID = "https://events.jupyter.org/jupyter_server_nbmodel/cell_execution/v1"

// Event types emitted around a mirrored cell execution.
const (
	EventExecutionStart = "execution_start"
	EventExecutionEnd   = "execution_end"
)

// CellExecutionEvent is one cell_execution/v1 domain event. Success and
// KernelError are set on execution_end only; KernelError holds the
// joined "ename: evalue" lines of the error outputs.
type CellExecutionEvent struct {
	EventType   string `json:"event_type"`
	CellID      string `json:"cell_id"`
	DocumentID  string `json:"document_id"`
	Timestamp   string `json:"timestamp"`
	Success     *bool  `json:"success,omitempty"`
	KernelError string `json:"kernel_error,omitempty"`
}

// EventEmitter receives cell execution lifecycle events. Emission is
// best-effort: implementations must not block or fail execution.
type EventEmitter interface {
	Emit(ctx context.Context, event CellExecutionEvent)
}

// MultiEmitter fans one event out to several emitters in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event CellExecutionEvent) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, event CellExecutionEvent) {
	attrs := []any{
		"schema", CellExecutionSchemaID,
		"event_type", event.EventType,
		"cell_id", event.CellID,
		"document_id", event.DocumentID,
		"timestamp", event.Timestamp,
	}
	if event.Success != nil {
		attrs = append(attrs, "success", *event.Success)
	}
	if event.KernelError != "" {
		attrs = append(attrs, "kernel_error", event.KernelError)
	}
	l.Logger.InfoContext(ctx, "cell execution event", attrs...)
}
