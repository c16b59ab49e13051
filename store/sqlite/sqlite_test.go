package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nevindra/nbexec"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := New(filepath.Join(t.TempDir(), "events.db"))
	t.Cleanup(func() { _ = j.Close() })
	if err := j.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	ok := true
	j.Emit(ctx, nbexec.CellExecutionEvent{
		EventType: nbexec.EventExecutionStart, CellID: "c1", DocumentID: "d1", Timestamp: "2025-01-01T00:00:00",
	})
	j.Emit(ctx, nbexec.CellExecutionEvent{
		EventType: nbexec.EventExecutionEnd, CellID: "c1", DocumentID: "d1",
		Timestamp: "2025-01-01T00:00:02", Success: &ok,
	})
	j.Emit(ctx, nbexec.CellExecutionEvent{
		EventType: nbexec.EventExecutionStart, CellID: "x", DocumentID: "other", Timestamp: "2025-01-01T00:00:03",
	})

	events, err := j.Events(ctx, "d1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != nbexec.EventExecutionStart || events[1].EventType != nbexec.EventExecutionEnd {
		t.Fatalf("unexpected order: %+v", events)
	}
	if events[0].Success != nil {
		t.Error("start event should have no success flag")
	}
	if events[1].Success == nil || !*events[1].Success {
		t.Error("end event should report success")
	}

	limited, err := j.Events(ctx, "d1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: got %d events", len(limited))
	}
}

func TestJournalFailureEvent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	failed := false
	j.Emit(ctx, nbexec.CellExecutionEvent{
		EventType: nbexec.EventExecutionEnd, CellID: "c1", DocumentID: "d1",
		Timestamp: "2025-01-01T00:00:00", Success: &failed, KernelError: "NameError: nope",
	})

	events, err := j.Events(ctx, "d1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Success == nil || *events[0].Success {
		t.Error("success flag lost")
	}
	if events[0].KernelError != "NameError: nope" {
		t.Errorf("kernel_error = %q", events[0].KernelError)
	}
}
