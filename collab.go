package nbexec

import "context"

// Collaboration is the shared-document service: it resolves room ids to
// live notebook documents. Implementations are expected to return the
// same live document for concurrent callers.
type Collaboration interface {
	// GetDocument returns the live document for roomID, or nil when the
	// document does not exist.
	GetDocument(ctx context.Context, roomID string) (Document, error)
}

// Document is a live collaborative notebook.
//
// Transaction runs fn as a single atomic mutation: collaborators
// observe either none or all of the writes performed inside fn.
type Document interface {
	Cells() []Cell
	Transaction(ctx context.Context, fn func() error) error
}

// Cell is one notebook cell inside a Document. Mutations must happen
// inside the owning document's Transaction.
type Cell interface {
	ID() string
	Type() string
	Source() string

	Outputs() OutputList

	// SetExecutionCount sets the cell execution count; nil clears it.
	SetExecutionCount(count *int)
	SetExecutionState(state string)

	// ExecutionMeta returns the cell's metadata.execution timing map,
	// or nil when unset.
	ExecutionMeta() map[string]string
	SetExecutionMeta(meta map[string]string)
	DeleteExecutionMeta()
}

// OutputList is the mutable outputs array of a cell.
type OutputList interface {
	Len() int
	At(i int) Output
	Set(i int, output Output)
	Append(output Output)
	Clear()
}
