package entcache

import (
	"context"
	"sync"
)

// writeJob is one queued persistence write. A job with run == nil is a
// flush barrier: done is closed once every earlier job has finished.
type writeJob struct {
	id   string
	run  func(context.Context) error
	done chan struct{}
}

// writer applies persistence writes on a single goroutine, in enqueue
// order, so the last write to reach storage is the last one issued.
type writer struct {
	q      chan writeJob
	report func(id string, err error)
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards sends on q against close
	closed bool
}

func newWriter(qlen int, report func(id string, err error)) *writer {
	w := &writer{q: make(chan writeJob, qlen), report: report}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for j := range w.q {
			if j.run == nil {
				close(j.done)
				continue
			}
			if err := j.run(context.Background()); err != nil {
				w.report(j.id, err)
			}
		}
	}()
	return w
}

// enqueue blocks while the queue is full.
func (w *writer) enqueue(id string, run func(context.Context) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	w.q <- writeJob{id: id, run: run}
	return nil
}

// flush waits for every job enqueued before the call. After close it
// returns immediately; close already drained the queue.
func (w *writer) flush(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.q <- writeJob{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the queue to drain, or for ctx.
// The drain continues in the background if ctx ends first.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.q)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
