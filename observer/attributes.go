package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for execution observability spans, metrics, and logs.
var (
	AttrKernelID   = attribute.Key("kernel.id")
	AttrRequestID  = attribute.Key("kernel.request_id")
	AttrDocumentID = attribute.Key("document.id")
	AttrCellID     = attribute.Key("cell.id")

	AttrEventType   = attribute.Key("cell_execution.event_type")
	AttrSuccess     = attribute.Key("cell_execution.success")
	AttrKernelError = attribute.Key("cell_execution.kernel_error")
)
