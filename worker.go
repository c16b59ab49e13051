package nbexec

import (
	"context"
	"encoding/json"
)

// stackWorker is the handle of one per-kernel worker goroutine.
type stackWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// spawnWorkerLocked starts the worker goroutine serving kernelID.
// Callers must hold s.mu.
func (s *ExecutionStack) spawnWorkerLocked(kernelID string, client KernelClient, queue *requestQueue, pending *PendingInput) {
	ctx, cancel := context.WithCancel(context.Background())
	worker := &stackWorker{cancel: cancel, done: make(chan struct{})}
	s.workers[kernelID] = worker
	go func() {
		defer close(worker.done)
		s.runWorker(ctx, kernelID, client, queue, pending)
	}()
}

// runWorker processes execution requests in order for one kernel. At
// most one interactive execution is in flight per kernel.
func (s *ExecutionStack) runWorker(ctx context.Context, kernelID string, client KernelClient, queue *requestQueue, pending *PendingInput) {
	s.logger.Debug("starting worker to process execution requests", "kernel_id", kernelID)
	for {
		req, err := queue.Get(ctx)
		if err != nil {
			// cancelled while idle: nothing in flight to fail
			drainQueue(queue)
			s.logger.Debug("stopping execution requests worker", "kernel_id", kernelID, "error", err)
			return
		}
		s.logger.Debug("processing execution request", "request_id", req.ID, "kernel_id", kernelID)

		client.SetSession(req.ID)
		if starter, ok := client.(ChannelStarter); ok && !starter.ChannelsRunning() {
			s.logger.Debug("starting channels", "kernel_id", kernelID)
			if err := starter.StartChannels(ctx); err != nil {
				s.logger.Error("failed to start channels", "kernel_id", kernelID, "error", err)
				s.setResult(kernelID, req.ID, WorkerError{Message: err.Error()})
				queue.TaskDone()
				continue
			}
		}

		result, err := s.executeSnippet(ctx, client, req, pending)
		if err != nil {
			s.setResult(kernelID, req.ID, WorkerError{Message: err.Error()})
			queue.TaskDone()
			if ctx.Err() != nil {
				// cooperative cancellation: remaining requests are
				// drained without executing
				drainQueue(queue)
				s.logger.Debug("stopping execution requests worker", "kernel_id", kernelID, "error", err)
				return
			}
			s.logger.Error("failed to process execution request", "request_id", req.ID, "kernel_id", kernelID, "error", err)
			continue
		}

		s.setResult(kernelID, req.ID, result)
		queue.TaskDone()
		s.logger.Debug("execution request processed", "request_id", req.ID, "kernel_id", kernelID)
	}
}

func drainQueue(queue *requestQueue) {
	for range queue.Drain() {
		queue.TaskDone()
	}
}

// executeSnippet drives one interactive execution: it resolves and
// resets the mirrored cell, wires the output and stdin hooks, awaits
// the kernel reply and records the end state.
func (s *ExecutionStack) executeSnippet(ctx context.Context, client KernelClient, req Request, pending *PendingInput) (Result, error) {
	doc, cell, err := s.mirror.resolve(ctx, req.Metadata)
	if err != nil {
		return nil, err
	}

	var timing map[string]string
	if cell != nil {
		var start string
		timing, start, err = s.mirror.begin(ctx, doc, cell, req.Metadata.RecordTiming)
		if err != nil {
			return nil, err
		}
		s.emit(ctx, CellExecutionEvent{
			EventType:  EventExecutionStart,
			CellID:     req.Metadata.CellID,
			DocumentID: req.Metadata.DocumentID,
			Timestamp:  start,
		})
	}

	outputs := []Output{}
	outputHook := func(msg Message) {
		s.handleOutput(ctx, &outputs, doc, cell, msg)
	}
	var stdinHook StdinHook
	if client.AllowStdin() {
		stdinHook = func(msg Message) {
			s.registerPendingInput(req.KernelID, req.ID, pending, msg)
		}
	}

	reply, err := client.ExecuteInteractive(ctx, req.Snippet, outputHook, stdinHook)
	if err != nil {
		return nil, err
	}

	if cell != nil {
		end, err := s.mirror.finish(ctx, doc, cell, reply.Content, req.Metadata.RecordTiming, timing)
		if err != nil {
			s.logger.Warn("failed to record execution end in cell", "cell_id", req.Metadata.CellID, "error", err)
		}
		success := reply.Content.Status == "ok"
		s.emit(ctx, CellExecutionEvent{
			EventType:   EventExecutionEnd,
			CellID:      req.Metadata.CellID,
			DocumentID:  req.Metadata.DocumentID,
			Timestamp:   end,
			Success:     &success,
			KernelError: errorSummary(outputs),
		})
	}

	encoded, err := json.Marshal(outputs)
	if err != nil {
		return nil, err
	}
	return Done{
		Status:         reply.Content.Status,
		ExecutionCount: reply.Content.ExecutionCount,
		Outputs:        string(encoded),
	}, nil
}

// handleOutput appends an iopub message to the request outputs and
// mirrors it into the cell. Mirroring is best-effort: a failed
// transaction is logged and execution continues.
func (s *ExecutionStack) handleOutput(ctx context.Context, outputs *[]Output, doc Document, cell Cell, msg Message) {
	output, ok := OutputFromMsg(msg)
	switch msg.Header.MsgType {
	case "stream", "display_data", "execute_result", "error":
		*outputs = append(*outputs, output)
	case "clear_output":
		*outputs = (*outputs)[:0]
	case "update_display_data":
		// not supported
		return
	default:
		return
	}
	if cell == nil {
		return
	}
	if err := s.mirror.output(ctx, doc, cell, msg, output, ok); err != nil {
		s.logger.Warn("failed to mirror output into cell", "error", err)
	}
}

// registerPendingInput records the stdin request in the kernel's
// pending-input slot, owned by the currently executing request.
func (s *ExecutionStack) registerPendingInput(kernelID, requestID string, pending *PendingInput, msg Message) {
	s.logger.Debug("execution request received an input request", "kernel_id", kernelID, "request_id", requestID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending.IsPending() {
		s.logger.Error("input request received while already waiting for an input", "kernel_id", kernelID)
	}
	pending.Set(requestID, InputDescription{
		ParentHeader: headerMap(msg.Header),
		InputRequest: InputRequest{
			Prompt:   contentString(msg.Content, "prompt"),
			Password: contentBool(msg.Content, "password"),
		},
	})
}
