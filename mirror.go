package nbexec

import (
	"context"
	"log/slog"
)

// Cell execution state values written by the mirror.
const (
	executionStateRunning = "running"
	executionStateIdle    = "idle"
)

// Timing keys recorded under cell metadata.execution.
const (
	timingReplyStarted = "shell.execute_reply.started"
	timingExecuteInput = "iopub.execute_input"
	timingReply        = "shell.execute_reply"
	timingFailed       = "execution_failed"
)

// cellMirror writes execution state, outputs and timing metadata into a
// live collaborative cell. Every multi-step mutation runs in a single
// document transaction so collaborators observe an atomic view.
type cellMirror struct {
	collab Collaboration
	logger *slog.Logger
}

// resolve looks up the cell addressed by the request metadata. A nil
// cell with nil error means mirroring is skipped for this request; the
// only hard failure is a cell that is not of type code.
func (m *cellMirror) resolve(ctx context.Context, meta Metadata) (Document, Cell, error) {
	if m.collab == nil {
		m.logger.Warn("collaboration service is not available, outputs won't be written within the document")
		return nil, nil, nil
	}
	if !meta.HasCell() {
		m.logger.Debug("document_id and cell_id not defined, outputs won't be written within the document")
		return nil, nil, nil
	}
	doc, err := m.collab.GetDocument(ctx, meta.DocumentID)
	if err != nil || doc == nil {
		m.logger.Warn("document not found", "document_id", meta.DocumentID, "error", err)
		return nil, nil, nil
	}
	var cell Cell
	for _, c := range doc.Cells() {
		if c.ID() != meta.CellID {
			continue
		}
		if cell != nil {
			m.logger.Warn("multiple cells have the same ID", "cell_id", meta.CellID)
			break
		}
		cell = c
	}
	if cell == nil {
		m.logger.Warn("cell not found in document", "cell_id", meta.CellID, "document_id", meta.DocumentID)
		return nil, nil, nil
	}
	if cell.Type() != "code" {
		err := &ErrCellNotCode{DocumentID: meta.DocumentID, CellID: meta.CellID}
		m.logger.Error(err.Error())
		return nil, nil, err
	}
	return doc, cell, nil
}

// begin resets the cell for a fresh run and, when asked, records the
// start timestamps. It returns the timing map carried through to
// finish, and the start timestamp for the execution_start event.
func (m *cellMirror) begin(ctx context.Context, doc Document, cell Cell, recordTiming bool) (map[string]string, string, error) {
	start := NowISO()
	var timing map[string]string
	err := doc.Transaction(ctx, func() error {
		cell.Outputs().Clear()
		cell.SetExecutionCount(nil)
		cell.SetExecutionState(executionStateRunning)
		cell.DeleteExecutionMeta()
		if recordTiming {
			timing = map[string]string{
				timingReplyStarted: start,
				// also set for compatibility with execution-time frontends
				timingExecuteInput: start,
			}
			cell.SetExecutionMeta(timing)
		}
		return nil
	})
	return timing, start, err
}

// output mirrors one iopub message into the cell. Stream outputs are
// coalesced into the tail of the cell outputs; clear_output truncates
// them. Message types without a cell effect are ignored.
func (m *cellMirror) output(ctx context.Context, doc Document, cell Cell, msg Message, output Output, ok bool) error {
	switch msg.Header.MsgType {
	case "stream":
		return doc.Transaction(ctx, func() error {
			coalesceStream(cell.Outputs(), output)
			return nil
		})
	case "display_data", "execute_result", "error":
		if !ok {
			return nil
		}
		return doc.Transaction(ctx, func() error {
			cell.Outputs().Append(output)
			return nil
		})
	case "clear_output":
		// content.wait is not honored: the outputs clear immediately
		return doc.Transaction(ctx, func() error {
			cell.Outputs().Clear()
			return nil
		})
	}
	return nil
}

// finish writes the reply outcome into the cell and, when asked, the end
// timestamp. It returns the end timestamp for the execution_end event.
func (m *cellMirror) finish(ctx context.Context, doc Document, cell Cell, reply ReplyContent, recordTiming bool, timing map[string]string) (string, error) {
	end := NowISO()
	err := doc.Transaction(ctx, func() error {
		cell.SetExecutionCount(reply.ExecutionCount)
		cell.SetExecutionState(executionStateIdle)
		if recordTiming {
			if timing == nil {
				timing = map[string]string{}
			}
			if reply.Status == "ok" {
				timing[timingReply] = end
			} else {
				timing[timingFailed] = end
			}
			cell.SetExecutionMeta(timing)
		}
		return nil
	})
	return end, err
}
