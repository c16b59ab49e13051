// Package memdoc implements the nbexec collaboration contracts with
// plain in-memory documents. It stands in for a real shared-document
// server in development setups and tests: transactions take the
// document lock, so collaborators observe each mutation atomically.
package memdoc

import (
	"context"
	"sync"

	"github.com/nevindra/nbexec"
)

// Service is an in-memory collaboration service keyed by room id.
type Service struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

var _ nbexec.Collaboration = (*Service)(nil)

// NewService creates an empty Service.
func NewService() *Service {
	return &Service{docs: make(map[string]*Document)}
}

// AddDocument creates and registers an empty document under roomID.
func (s *Service) AddDocument(roomID string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &Document{}
	s.docs[roomID] = doc
	return doc
}

// GetDocument returns the live document for roomID, or nil when absent.
func (s *Service) GetDocument(_ context.Context, roomID string) (nbexec.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[roomID]
	if !ok {
		// absent documents are not an error: the caller decides
		return nil, nil
	}
	return doc, nil
}

// Document is one in-memory notebook.
type Document struct {
	mu    sync.Mutex
	cells []*CellData
}

var _ nbexec.Document = (*Document)(nil)

// AddCell appends a cell and returns it.
func (d *Document) AddCell(id, cellType, source string) *CellData {
	d.mu.Lock()
	defer d.mu.Unlock()
	cell := &CellData{doc: d, id: id, cellType: cellType, source: source}
	d.cells = append(d.cells, cell)
	return cell
}

// Cells returns the document cells in order.
func (d *Document) Cells() []nbexec.Cell {
	d.mu.Lock()
	defer d.mu.Unlock()
	cells := make([]nbexec.Cell, len(d.cells))
	for i, c := range d.cells {
		cells[i] = c
	}
	return cells
}

// Transaction runs fn while holding the document lock.
func (d *Document) Transaction(_ context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

// CellData is one in-memory notebook cell. Mutations must happen
// inside the owning document's Transaction; the Snapshot helpers take
// the document lock for out-of-transaction reads.
type CellData struct {
	doc            *Document
	id             string
	cellType       string
	source         string
	executionCount *int
	executionState string
	execMeta       map[string]string
	outputs        outputList
}

var _ nbexec.Cell = (*CellData)(nil)

func (c *CellData) ID() string     { return c.id }
func (c *CellData) Type() string   { return c.cellType }
func (c *CellData) Source() string { return c.source }

func (c *CellData) Outputs() nbexec.OutputList { return &c.outputs }

func (c *CellData) SetExecutionCount(count *int) { c.executionCount = count }
func (c *CellData) SetExecutionState(state string) {
	c.executionState = state
}

func (c *CellData) ExecutionMeta() map[string]string { return c.execMeta }
func (c *CellData) SetExecutionMeta(meta map[string]string) {
	c.execMeta = meta
}
func (c *CellData) DeleteExecutionMeta() { c.execMeta = nil }

// SnapshotOutputs returns a copy of the cell outputs.
func (c *CellData) SnapshotOutputs() []nbexec.Output {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	return append([]nbexec.Output(nil), c.outputs.items...)
}

// SnapshotState returns the execution count, state and timing metadata.
func (c *CellData) SnapshotState() (count *int, state string, meta map[string]string) {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	return c.executionCount, c.executionState, c.execMeta
}

type outputList struct {
	items []nbexec.Output
}

var _ nbexec.OutputList = (*outputList)(nil)

func (l *outputList) Len() int                       { return len(l.items) }
func (l *outputList) At(i int) nbexec.Output         { return l.items[i] }
func (l *outputList) Set(i int, output nbexec.Output) { l.items[i] = output }
func (l *outputList) Append(output nbexec.Output)    { l.items = append(l.items, output) }
func (l *outputList) Clear()                         { l.items = nil }
