package observer

import (
	"context"

	"github.com/nevindra/nbexec"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// Emitter forwards cell execution events to OTEL as structured log
// records and counts them per event type.
type Emitter struct {
	inst *Instruments
}

var _ nbexec.EventEmitter = (*Emitter)(nil)

// NewEmitter returns an Emitter backed by the given instruments.
func NewEmitter(inst *Instruments) *Emitter {
	return &Emitter{inst: inst}
}

// Emit implements nbexec.EventEmitter.
func (e *Emitter) Emit(ctx context.Context, event nbexec.CellExecutionEvent) {
	e.inst.Events.Add(ctx, 1, metric.WithAttributes(
		AttrEventType.String(event.EventType),
		AttrDocumentID.String(event.DocumentID),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("cell execution event"))
	rec.AddAttributes(
		otellog.String("schema_id", nbexec.CellExecutionSchemaID),
		otellog.String("event_type", event.EventType),
		otellog.String("cell_id", event.CellID),
		otellog.String("document_id", event.DocumentID),
		otellog.String("timestamp", event.Timestamp),
	)
	if event.Success != nil {
		rec.AddAttributes(otellog.Bool("success", *event.Success))
	}
	if event.KernelError != "" {
		rec.AddAttributes(otellog.String("kernel_error", event.KernelError))
	}
	e.inst.Logger.Emit(ctx, rec)
}
