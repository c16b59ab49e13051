package nbexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testKernel = "11111111-2222-3333-4444-555555555555"

func newTestStack(t *testing.T, client *fakeClient, opts ...StackOption) *ExecutionStack {
	t.Helper()
	manager := newFakeManager()
	manager.add(testKernel, client)
	stack := NewStack(manager, opts...)
	t.Cleanup(func() { _ = stack.Dispose(context.Background()) })
	return stack
}

func TestPutReturnsPollableRequest(t *testing.T) {
	client := newFakeClient(scriptedExec{block: true})
	stack := newTestStack(t, client)

	uid, err := stack.Put(testKernel, "a = 1", Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if uid == "" {
		t.Fatal("empty request id")
	}

	result, err := stack.Get(testKernel, uid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.(Pending); !ok {
		t.Fatalf("got %T, want Pending", result)
	}
}

func TestPutUnknownKernel(t *testing.T) {
	stack := NewStack(newFakeManager())
	if _, err := stack.Put(testKernel, "a", Metadata{}); err == nil {
		t.Fatal("expected error for unknown kernel")
	}
}

func TestGetUnknownRequest(t *testing.T) {
	client := newFakeClient()
	stack := newTestStack(t, client)

	_, err := stack.Get(testKernel, "00000000-0000-0000-0000-000000000000")
	var notFound *ErrRequestNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want ErrRequestNotFound", err)
	}
}

func TestResultConsumedExactlyOnce(t *testing.T) {
	client := newFakeClient()
	stack := newTestStack(t, client)

	uid, err := stack.Put(testKernel, "a = 1", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	result := waitTerminal(t, stack, testKernel, uid)
	done, ok := result.(Done)
	if !ok {
		t.Fatalf("got %T, want Done", result)
	}
	if done.Status != "ok" || done.Outputs != "[]" {
		t.Fatalf("unexpected result: %+v", done)
	}

	if _, err := stack.Get(testKernel, uid); err == nil {
		t.Fatal("second get should fail: result is single-consumption")
	}
}

func TestRequestsCompleteInSubmissionOrder(t *testing.T) {
	client := newFakeClient(
		scriptedExec{msgs: []Message{streamMsg("stdout", "one\n")}, reply: okReply(1)},
		scriptedExec{msgs: []Message{streamMsg("stdout", "two\n")}, reply: okReply(2)},
		scriptedExec{msgs: []Message{streamMsg("stdout", "three\n")}, reply: okReply(3)},
	)
	stack := newTestStack(t, client)

	var uids []string
	for _, snippet := range []string{"s1", "s2", "s3"} {
		uid, err := stack.Put(testKernel, snippet, Metadata{})
		if err != nil {
			t.Fatal(err)
		}
		uids = append(uids, uid)
	}

	wantTexts := []string{"one", "two", "three"}
	for i, uid := range uids {
		done := waitTerminal(t, stack, testKernel, uid).(Done)
		if done.ExecutionCount == nil || *done.ExecutionCount != i+1 {
			t.Errorf("request %d: execution count %v, want %d", i, done.ExecutionCount, i+1)
		}
		want := `[{"output_type":"stream","name":"stdout","text":"` + wantTexts[i] + `\n"}]`
		if done.Outputs != want {
			t.Errorf("request %d outputs: got %s, want %s", i, done.Outputs, want)
		}
	}

	// the worker tagged the session once per request, in order
	client.mu.Lock()
	sessions := append([]string(nil), client.sessions...)
	client.mu.Unlock()
	if len(sessions) != 3 {
		t.Fatalf("got %d session tags, want 3", len(sessions))
	}
	for i, uid := range uids {
		if sessions[i] != uid {
			t.Errorf("session %d = %s, want %s", i, sessions[i], uid)
		}
	}
}

func TestKernelReplyErrorIsDone(t *testing.T) {
	client := newFakeClient(scriptedExec{
		msgs:  []Message{errorMsg("ZeroDivisionError", "division by zero")},
		reply: errReply(1),
	})
	stack := newTestStack(t, client)

	uid, _ := stack.Put(testKernel, "1 / 0", Metadata{})
	done := waitTerminal(t, stack, testKernel, uid).(Done)
	if done.Status != "error" {
		t.Errorf("status = %q, want error", done.Status)
	}
	if want := `"ename":"ZeroDivisionError"`; !strings.Contains(done.Outputs, want) {
		t.Errorf("outputs %s missing %s", done.Outputs, want)
	}
}

func TestWorkerFailureRecordsError(t *testing.T) {
	client := newFakeClient(
		scriptedExec{err: errors.New("socket torn down")},
		scriptedExec{reply: okReply(1)},
	)
	stack := newTestStack(t, client)

	bad, _ := stack.Put(testKernel, "boom", Metadata{})
	good, _ := stack.Put(testKernel, "a = 1", Metadata{})

	result := waitTerminal(t, stack, testKernel, bad)
	we, ok := result.(WorkerError)
	if !ok {
		t.Fatalf("got %T, want WorkerError", result)
	}
	if we.Message != "socket torn down" {
		t.Errorf("message = %q", we.Message)
	}

	// one bad snippet does not kill the worker for the kernel
	if done := waitTerminal(t, stack, testKernel, good).(Done); done.Status != "ok" {
		t.Errorf("follow-up request status = %q, want ok", done.Status)
	}
}

func TestPendingInputBelongsToOwningRequest(t *testing.T) {
	client := newFakeClient(
		scriptedExec{stdinPrompt: "Age:"},
		scriptedExec{reply: okReply(2)},
	)
	stack := newTestStack(t, client)

	first, _ := stack.Put(testKernel, "input('Age:')", Metadata{})
	second, _ := stack.Put(testKernel, "a = 1", Metadata{})

	input := waitInputRequired(t, stack, testKernel, first)
	if input.InputRequest.Prompt != "Age:" {
		t.Errorf("prompt = %q", input.InputRequest.Prompt)
	}
	if input.InputRequest.Password {
		t.Error("password should be false")
	}
	if input.ParentHeader["msg_type"] != "input_request" {
		t.Errorf("parent header = %v", input.ParentHeader)
	}

	// the second request never observes the first request's prompt
	result, err := stack.Get(testKernel, second)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.(Pending); !ok {
		t.Fatalf("second request got %T, want Pending", result)
	}

	if err := stack.SendInput(context.Background(), testKernel, "42"); err != nil {
		t.Fatal(err)
	}

	done := waitTerminal(t, stack, testKernel, first).(Done)
	if !strings.Contains(done.Outputs, "'42'") {
		t.Errorf("outputs %s missing the replied value", done.Outputs)
	}
	if _, ok := waitTerminal(t, stack, testKernel, second).(Done); !ok {
		t.Error("second request did not complete")
	}
}

func TestSendInputSkippedWhenChannelReady(t *testing.T) {
	client := newFakeClient()
	client.shellReady = true
	stack := newTestStack(t, client)

	if err := stack.SendInput(context.Background(), testKernel, "late"); err != nil {
		t.Fatal(err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.inputs) != 0 {
		t.Fatalf("input was sent despite a ready channel: %v", client.inputs)
	}
}

func TestSendInputUnknownKernel(t *testing.T) {
	stack := NewStack(newFakeManager())
	err := stack.SendInput(context.Background(), testKernel, "x")
	if err == nil {
		t.Fatal("expected error for unknown kernel")
	}
}

func TestCancelStopsWorkerAndClient(t *testing.T) {
	client := newFakeClient(scriptedExec{block: true})
	stack := newTestStack(t, client)

	uid, _ := stack.Put(testKernel, "while True: pass", Metadata{})

	// wait until the worker picked the request up
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		client.mu.Lock()
		started := len(client.sessions) > 0
		client.mu.Unlock()
		if started {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := stack.Cancel(context.Background(), testKernel, time.Second); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if client.stopCount() != 1 {
		t.Errorf("stop_channels called %d times, want 1", client.stopCount())
	}

	// the in-flight request carries the cancellation error
	result, err := stack.Get(testKernel, uid)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.(WorkerError); !ok {
		t.Errorf("got %T, want WorkerError", result)
	}
}

func TestCancelDrainsQueuedRequests(t *testing.T) {
	client := newFakeClient(scriptedExec{block: true})
	stack := newTestStack(t, client)

	_, _ = stack.Put(testKernel, "first", Metadata{})
	queued, _ := stack.Put(testKernel, "second", Metadata{})

	if err := stack.Cancel(context.Background(), testKernel, time.Second); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// the never-executed request stays pending until disposal
	result, err := stack.Get(testKernel, queued)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.(Pending); !ok {
		t.Errorf("got %T, want Pending", result)
	}
}

func TestDisposeStopsEverythingOnce(t *testing.T) {
	client := newFakeClient(scriptedExec{stdinPrompt: "pwd:"})
	manager := newFakeManager()
	manager.add(testKernel, client)
	stack := NewStack(manager)

	first, _ := stack.Put(testKernel, "input('pwd:')", Metadata{})
	waitInputRequired(t, stack, testKernel, first)

	if err := stack.Dispose(context.Background()); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	// the still-pending input was answered with the empty string
	client.mu.Lock()
	inputs := append([]string(nil), client.inputs...)
	client.mu.Unlock()
	if len(inputs) != 1 || inputs[0] != "" {
		t.Errorf("pending input answered with %v, want one empty string", inputs)
	}

	if client.stopCount() != 1 {
		t.Errorf("stop_channels called %d times, want 1", client.stopCount())
	}

	// a second dispose is a no-op
	if err := stack.Dispose(context.Background()); err != nil {
		t.Fatalf("second dispose: %v", err)
	}
	if client.stopCount() != 1 {
		t.Errorf("stop_channels called %d times after second dispose, want 1", client.stopCount())
	}

	// all slots are gone
	if _, err := stack.Get(testKernel, first); err == nil {
		t.Error("slots should be cleared after dispose")
	}
}

func TestStackEmitsEventsForMirroredExecution(t *testing.T) {
	doc := &fakeDoc{}
	cell := &fakeCell{id: "cell-1", cellType: "code"}
	doc.cells = append(doc.cells, cell)
	collab := &fakeCollab{docs: map[string]*fakeDoc{"doc-1": doc}}
	emitter := &recordingEmitter{}

	client := newFakeClient(scriptedExec{
		msgs:  []Message{errorMsg("NameError", "name 'x' is not defined")},
		reply: errReply(1),
	})
	stack := newTestStack(t, client, WithCollaboration(collab), WithEmitter(emitter))

	uid, _ := stack.Put(testKernel, "x", Metadata{DocumentID: "doc-1", CellID: "cell-1"})
	waitTerminal(t, stack, testKernel, uid)

	events := emitter.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != EventExecutionStart || events[1].EventType != EventExecutionEnd {
		t.Fatalf("unexpected event order: %+v", events)
	}
	if events[1].Success == nil || *events[1].Success {
		t.Error("end event should report failure")
	}
	if events[1].KernelError != "NameError: name 'x' is not defined" {
		t.Errorf("kernel_error = %q", events[1].KernelError)
	}
	if events[0].Timestamp > events[1].Timestamp {
		t.Error("start timestamp after end timestamp")
	}
}

func TestStackRejectsNonCodeCell(t *testing.T) {
	doc := &fakeDoc{}
	doc.cells = append(doc.cells, &fakeCell{id: "cell-1", cellType: "markdown"})
	collab := &fakeCollab{docs: map[string]*fakeDoc{"doc-1": doc}}

	client := newFakeClient()
	stack := newTestStack(t, client, WithCollaboration(collab))

	uid, _ := stack.Put(testKernel, "x", Metadata{DocumentID: "doc-1", CellID: "cell-1"})
	result := waitTerminal(t, stack, testKernel, uid)
	we, ok := result.(WorkerError)
	if !ok {
		t.Fatalf("got %T, want WorkerError", result)
	}
	if !strings.Contains(we.Message, "not of type code") {
		t.Errorf("message = %q", we.Message)
	}
}
