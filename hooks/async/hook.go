// Package asynchook moves hook calls off the store's goroutines.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{RemoteEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	users, _ := entcache.Open(ctx, reg, "users", entcache.Options[User]{
//	    Persistence: persist.Entity,
//	    Hooks:       hooks,
//	})
//
// Events are dropped, not queued, when the buffer is full; Dropped reports
// how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/entcache"
)

type Hooks struct {
	inner   entcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ entcache.Hooks = (*Hooks)(nil)

func New(inner entcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers what is queued and stops the workers. Events after Close
// are dropped.
func (h *Hooks) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.q)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hydrated(e, id string, n int) { h.try(func() { h.inner.Hydrated(e, id, n) }) }
func (h *Hooks) HydrateFailed(e, id string, err error) {
	h.try(func() { h.inner.HydrateFailed(e, id, err) })
}
func (h *Hooks) PersistFailed(e, id string, err error) {
	h.try(func() { h.inner.PersistFailed(e, id, err) })
}
func (h *Hooks) PublishFailed(e, id string, err error) {
	h.try(func() { h.inner.PublishFailed(e, id, err) })
}
func (h *Hooks) RemoteApplied(e, kind, id string) { h.try(func() { h.inner.RemoteApplied(e, kind, id) }) }
func (h *Hooks) RemoteRejected(e string, err error) {
	h.try(func() { h.inner.RemoteRejected(e, err) })
}
