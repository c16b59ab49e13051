package nbexec

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// --- Kernel fakes (shared across stack_test.go, http_test.go) ---

// scriptedExec describes one ExecuteInteractive call of a fakeClient.
type scriptedExec struct {
	msgs        []Message // iopub messages emitted before the reply
	stdinPrompt string    // when set, raise an input_request and wait for Input
	reply       Reply
	err         error
	block       bool // wait for ctx cancellation instead of replying
}

// fakeClient is a scripted kernel client. Executions consume entries of
// execs in order; once exhausted, executions reply ok with no outputs.
type fakeClient struct {
	mu         sync.Mutex
	execs      []scriptedExec
	count      int
	session    string
	sessions   []string
	stopCalls  int
	inputs     []string
	inputCh    chan string
	stdinReady bool
	shellReady bool
	noStdin    bool
}

func newFakeClient(execs ...scriptedExec) *fakeClient {
	return &fakeClient{execs: execs, inputCh: make(chan string, 1)}
}

func (c *fakeClient) AllowStdin() bool { return !c.noStdin }

func (c *fakeClient) SetSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = id
	c.sessions = append(c.sessions, id)
}

func (c *fakeClient) StdinMsgReady(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdinReady, nil
}

func (c *fakeClient) ShellMsgReady(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shellReady, nil
}

func (c *fakeClient) Input(value string) error {
	c.mu.Lock()
	c.inputs = append(c.inputs, value)
	c.mu.Unlock()
	select {
	case c.inputCh <- value:
	default:
	}
	return nil
}

func (c *fakeClient) StopChannels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
}

func (c *fakeClient) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalls
}

func (c *fakeClient) ExecuteInteractive(ctx context.Context, code string, outputHook OutputHook, stdinHook StdinHook) (Reply, error) {
	c.mu.Lock()
	var exec scriptedExec
	if len(c.execs) > 0 {
		exec = c.execs[0]
		c.execs = c.execs[1:]
	}
	c.count++
	count := c.count
	c.mu.Unlock()

	if exec.block {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	if exec.err != nil {
		return Reply{}, exec.err
	}

	for _, msg := range exec.msgs {
		outputHook(msg)
	}

	if exec.stdinPrompt != "" && stdinHook != nil {
		stdinHook(Message{
			Header:  MessageHeader{MsgID: NewID(), MsgType: "input_request", Session: c.session},
			Content: map[string]any{"prompt": exec.stdinPrompt, "password": false},
		})
		select {
		case value := <-c.inputCh:
			outputHook(executeResultMsg(fmt.Sprintf("'%s'", value), count))
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}
	}

	if exec.reply.Content.Status != "" {
		return exec.reply, nil
	}
	return Reply{Content: ReplyContent{Status: "ok", ExecutionCount: &count}}, nil
}

// fakeManager hands out one fixed client per kernel id.
type fakeManager struct {
	clients map[string]*fakeClient
}

func newFakeManager() *fakeManager {
	return &fakeManager{clients: make(map[string]*fakeClient)}
}

func (m *fakeManager) add(kernelID string, client *fakeClient) {
	m.clients[kernelID] = client
}

func (m *fakeManager) Has(kernelID string) bool {
	_, ok := m.clients[kernelID]
	return ok
}

func (m *fakeManager) Client(kernelID string) (KernelClient, error) {
	client, ok := m.clients[kernelID]
	if !ok {
		return nil, &ErrKernelNotFound{KernelID: kernelID}
	}
	return client, nil
}

// --- Message builders ---

func streamMsg(name, text string) Message {
	return Message{
		Header:  MessageHeader{MsgID: NewID(), MsgType: "stream"},
		Content: map[string]any{"name": name, "text": text},
	}
}

func executeResultMsg(plain string, count int) Message {
	return Message{
		Header: MessageHeader{MsgID: NewID(), MsgType: "execute_result"},
		Content: map[string]any{
			"data":            map[string]any{"text/plain": plain},
			"metadata":        map[string]any{},
			"execution_count": count,
		},
	}
}

func errorMsg(ename, evalue string) Message {
	return Message{
		Header: MessageHeader{MsgID: NewID(), MsgType: "error"},
		Content: map[string]any{
			"ename":     ename,
			"evalue":    evalue,
			"traceback": []any{ename + ": " + evalue},
		},
	}
}

func okReply(count int) Reply {
	return Reply{Content: ReplyContent{Status: "ok", ExecutionCount: &count}}
}

func errReply(count int) Reply {
	return Reply{Content: ReplyContent{Status: "error", ExecutionCount: &count}}
}

// --- Collaboration fakes (shared with mirror_test.go, output_test.go) ---

type fakeOutputs struct {
	items []Output
}

func (l *fakeOutputs) Len() int               { return len(l.items) }
func (l *fakeOutputs) At(i int) Output        { return l.items[i] }
func (l *fakeOutputs) Set(i int, o Output)    { l.items[i] = o }
func (l *fakeOutputs) Append(o Output)        { l.items = append(l.items, o) }
func (l *fakeOutputs) Clear()                 { l.items = nil }

type fakeCell struct {
	id             string
	cellType       string
	source         string
	executionCount *int
	executionState string
	execMeta       map[string]string
	outputs        fakeOutputs
}

func (c *fakeCell) ID() string                           { return c.id }
func (c *fakeCell) Type() string                         { return c.cellType }
func (c *fakeCell) Source() string                       { return c.source }
func (c *fakeCell) Outputs() OutputList                  { return &c.outputs }
func (c *fakeCell) SetExecutionCount(count *int)         { c.executionCount = count }
func (c *fakeCell) SetExecutionState(state string)       { c.executionState = state }
func (c *fakeCell) ExecutionMeta() map[string]string     { return c.execMeta }
func (c *fakeCell) SetExecutionMeta(m map[string]string) { c.execMeta = m }
func (c *fakeCell) DeleteExecutionMeta()                 { c.execMeta = nil }

type fakeDoc struct {
	mu           sync.Mutex
	cells        []*fakeCell
	transactions int
}

func (d *fakeDoc) Cells() []Cell {
	cells := make([]Cell, len(d.cells))
	for i, c := range d.cells {
		cells[i] = c
	}
	return cells
}

func (d *fakeDoc) Transaction(_ context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transactions++
	return fn()
}

type fakeCollab struct {
	docs map[string]*fakeDoc
}

func (c *fakeCollab) GetDocument(_ context.Context, roomID string) (Document, error) {
	doc, ok := c.docs[roomID]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// --- Event collection ---

type recordingEmitter struct {
	mu     sync.Mutex
	events []CellExecutionEvent
}

func (e *recordingEmitter) Emit(_ context.Context, event CellExecutionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) snapshot() []CellExecutionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CellExecutionEvent(nil), e.events...)
}

// --- Polling helpers ---

// waitTerminal polls the stack until the request settles.
func waitTerminal(t *testing.T, stack *ExecutionStack, kernelID, requestID string) Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := stack.Get(kernelID, requestID)
		if err != nil {
			t.Fatalf("unexpected error polling %s: %v", requestID, err)
		}
		switch result.(type) {
		case Done, WorkerError:
			return result
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s did not settle in time", requestID)
	return nil
}

// waitInputRequired polls the stack until the request reports a
// pending input.
func waitInputRequired(t *testing.T, stack *ExecutionStack, kernelID, requestID string) InputRequired {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := stack.Get(kernelID, requestID)
		if err != nil {
			t.Fatalf("unexpected error polling %s: %v", requestID, err)
		}
		if input, ok := result.(InputRequired); ok {
			return input
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s never asked for input", requestID)
	return InputRequired{}
}

func intp(n int) *int { return &n }
