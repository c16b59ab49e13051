package nbexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDisposeTimeout bounds each wait of Dispose: every worker await
// and every queue join gets its own budget.
const DefaultDisposeTimeout = 3 * time.Second

// notStarted is the slot sentinel between Put and the worker recording
// a terminal result. A poll maps it to Pending without consuming it.
type notStarted struct{}

func (notStarted) isResult() {}

// StackOption configures an ExecutionStack.
type StackOption func(*ExecutionStack)

// WithCollaboration wires the shared-document service used to mirror
// outputs into notebook cells.
func WithCollaboration(c Collaboration) StackOption {
	return func(s *ExecutionStack) { s.collab = c }
}

// WithEmitter wires the sink for cell execution lifecycle events.
func WithEmitter(e EventEmitter) StackOption {
	return func(s *ExecutionStack) { s.emitter = e }
}

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StackOption {
	return func(s *ExecutionStack) { s.logger = l }
}

// WithDisposeTimeout overrides the per-wait disposal budget.
func WithDisposeTimeout(d time.Duration) StackOption {
	return func(s *ExecutionStack) { s.disposeTimeout = d }
}

// ExecutionStack keeps track of execution requests.
//
// Each kernel gets a FIFO queue served by a single worker goroutine, so
// requests to one kernel complete strictly in submission order. Results
// are polled by request id and can only be consumed once.
type ExecutionStack struct {
	manager KernelManager
	collab  Collaboration
	emitter EventEmitter
	logger  *slog.Logger
	mirror  *cellMirror

	disposeTimeout time.Duration

	mu sync.Mutex
	// results per kernel ID per execution request ID
	results map[string]map[string]Result
	// cached kernel clients
	clients map[string]KernelClient
	// pending input per kernel ID
	pending map[string]*PendingInput
	// execution request queue per kernel ID
	queues map[string]*requestQueue
	// queue worker per kernel ID
	workers map[string]*stackWorker
}

// NewStack creates an ExecutionStack bound to a kernel manager.
func NewStack(manager KernelManager, opts ...StackOption) *ExecutionStack {
	s := &ExecutionStack{
		manager:        manager,
		logger:         slog.New(slog.DiscardHandler),
		disposeTimeout: DefaultDisposeTimeout,
		results:        make(map[string]map[string]Result),
		clients:        make(map[string]KernelClient),
		pending:        make(map[string]*PendingInput),
		queues:         make(map[string]*requestQueue),
		workers:        make(map[string]*stackWorker),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mirror = &cellMirror{collab: s.collab, logger: s.logger}
	return s
}

// Collaboration returns the wired shared-document service, or nil.
func (s *ExecutionStack) Collaboration() Collaboration {
	return s.collab
}

// getClientLocked returns the cached client for kernelID, creating it
// on first use. Callers must hold s.mu.
func (s *ExecutionStack) getClientLocked(kernelID string) (KernelClient, error) {
	if client, ok := s.clients[kernelID]; ok {
		return client, nil
	}
	client, err := s.manager.Client(kernelID)
	if err != nil {
		return nil, err
	}
	s.clients[kernelID] = client
	return client, nil
}

// Put adds an asynchronous execution request for kernelID and returns
// the request identifier to poll with.
func (s *ExecutionStack) Put(kernelID, snippet string, metadata Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.getClientLocked(kernelID)
	if err != nil {
		return "", err
	}

	uid := NewID()
	if s.results[kernelID] == nil {
		s.results[kernelID] = make(map[string]Result)
	}
	// make the stack aware the request exists before it is scheduled
	s.results[kernelID][uid] = notStarted{}
	if s.pending[kernelID] == nil {
		s.pending[kernelID] = &PendingInput{}
	}
	if s.queues[kernelID] == nil {
		s.queues[kernelID] = newRequestQueue()
	}
	s.queues[kernelID].Put(Request{ID: uid, KernelID: kernelID, Snippet: snippet, Metadata: metadata})

	if s.workers[kernelID] == nil {
		s.spawnWorkerLocked(kernelID, client, s.queues[kernelID], s.pending[kernelID])
	}
	return uid, nil
}

// Get returns the state of request requestID: its pending input when
// the request is the one waiting on stdin, Pending while unsettled, or
// the terminal result. A terminal result is removed on return, so it
// can be retrieved exactly once.
func (s *ExecutionStack) Get(kernelID, requestID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kernelResults := s.results[kernelID]
	result, ok := kernelResults[requestID]
	if !ok {
		return nil, &ErrRequestNotFound{KernelID: kernelID, RequestID: requestID}
	}

	if pending := s.pending[kernelID]; pending != nil && pending.IsPending() {
		s.logger.Info("kernel has a pending input", "kernel_id", kernelID)
		// only the request that triggered the prompt may observe it;
		// another request still polling for its result must not
		// capture the pending input
		if desc, ok := pending.For(requestID); ok {
			return InputRequired(desc), nil
		}
	}

	if _, ok := result.(notStarted); ok {
		return Pending{}, nil
	}
	delete(kernelResults, requestID)
	return result, nil
}

// SendInput sends the stdin reply value to kernelID and clears the
// pending-input slot. The reply is only issued when neither the stdin
// nor the shell channel has a newer message ready: the kernel may have
// aborted or completed the read before the caller answered.
func (s *ExecutionStack) SendInput(ctx context.Context, kernelID, value string) error {
	s.mu.Lock()
	client, err := s.getClientLocked(kernelID)
	pending := s.pending[kernelID]
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unable to find kernel %s: %w", kernelID, err)
	}

	stdinReady, err := client.StdinMsgReady(ctx)
	if err != nil {
		return err
	}
	shellReady, err := client.ShellMsgReady(ctx)
	if err != nil {
		return err
	}
	if stdinReady || shellReady {
		return nil
	}

	if err := client.Input(value); err != nil {
		return err
	}
	if pending != nil {
		s.mu.Lock()
		pending.Clear()
		s.mu.Unlock()
	}
	return nil
}

// Cancel cancels execution for kernelID: the worker is cancelled and
// awaited, the queue drained, and the kernel client shut down, each
// phase bounded by timeout (zero means no bound). A failed phase does
// not skip the following ones; the first error is returned.
func (s *ExecutionStack) Cancel(ctx context.Context, kernelID string, timeout time.Duration) error {
	s.logger.Debug("cancel execution", "kernel_id", kernelID)
	var firstErr error

	s.mu.Lock()
	worker := s.workers[kernelID]
	delete(s.workers, kernelID)
	s.mu.Unlock()
	if worker != nil {
		worker.cancel()
		if err := awaitDone(ctx, timeout, worker.done); err != nil {
			firstErr = fmt.Errorf("awaiting worker for kernel %s: %w", kernelID, err)
		}
	}

	s.mu.Lock()
	queue := s.queues[kernelID]
	delete(s.queues, kernelID)
	s.mu.Unlock()
	if queue != nil {
		if err := joinQueue(ctx, timeout, queue); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("joining queue for kernel %s: %w", kernelID, err)
		}
	}

	s.mu.Lock()
	client := s.clients[kernelID]
	delete(s.clients, kernelID)
	s.mu.Unlock()
	if client != nil {
		client.StopChannels()
	}
	return firstErr
}

// Dispose cancels every worker, answers still-pending inputs with an
// empty string so kernels don't hang on a read, waits for workers and
// queues to drain within the disposal budget, and stops every cached
// client. The stack must not be used afterwards.
func (s *ExecutionStack) Dispose(ctx context.Context) error {
	s.logger.Debug("disposing execution stack")
	var errs []error

	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]*stackWorker)
	var pendingKernels []string
	for kernelID, input := range s.pending {
		if input.IsPending() {
			pendingKernels = append(pendingKernels, kernelID)
		}
	}
	s.mu.Unlock()

	for _, worker := range workers {
		worker.cancel()
	}
	for _, kernelID := range pendingKernels {
		if err := s.SendInput(ctx, kernelID, ""); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	s.pending = make(map[string]*PendingInput)
	s.mu.Unlock()

	for _, worker := range workers {
		if err := awaitDone(ctx, s.disposeTimeout, worker.done); err != nil {
			errs = append(errs, fmt.Errorf("awaiting worker: %w", err))
		}
	}

	s.mu.Lock()
	queues := s.queues
	s.queues = make(map[string]*requestQueue)
	s.mu.Unlock()
	for _, queue := range queues {
		if err := joinQueue(ctx, s.disposeTimeout, queue); err != nil {
			errs = append(errs, fmt.Errorf("joining queue: %w", err))
		}
	}

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]KernelClient)
	s.results = make(map[string]map[string]Result)
	s.mu.Unlock()
	for _, client := range clients {
		client.StopChannels()
	}

	s.logger.Debug("execution stack has been disposed")
	return errors.Join(errs...)
}

// setResult records a terminal result for a request slot. A slot that
// disappeared (disposal raced the worker) is dropped silently.
func (s *ExecutionStack) setResult(kernelID, requestID string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kernelResults := s.results[kernelID]; kernelResults != nil {
		kernelResults[requestID] = result
	}
}

func (s *ExecutionStack) emit(ctx context.Context, event CellExecutionEvent) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, event)
	}
}

// awaitDone waits for done within timeout (zero means unbounded).
func awaitDone(ctx context.Context, timeout time.Duration, done <-chan struct{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinQueue(ctx context.Context, timeout time.Duration, queue *requestQueue) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return queue.Join(ctx)
}
