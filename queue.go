package nbexec

import (
	"context"
	"sync"
)

// requestQueue is an unbounded FIFO of execution requests with
// task-done accounting, mirroring the join semantics the disposal and
// cancellation paths rely on: Join returns once every item ever Put has
// been marked done.
type requestQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []Request
	unfinished int
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues a request. Never blocks.
func (q *requestQueue) Put(req Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.unfinished++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Get dequeues the next request, blocking until one is available or ctx
// is done.
func (q *requestQueue) Get(ctx context.Context) (Request, error) {
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return Request{}, err
		}
		q.cond.Wait()
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req, nil
}

// TaskDone marks one previously dequeued (or drained) request as done.
func (q *requestQueue) TaskDone() {
	q.mu.Lock()
	if q.unfinished > 0 {
		q.unfinished--
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain removes and returns every queued request without waiting. The
// caller still owes a TaskDone per drained item.
func (q *requestQueue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Join blocks until every item ever Put has been marked done, or ctx
// expires.
func (q *requestQueue) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unfinished > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// Len returns the number of queued, not yet dequeued requests.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
