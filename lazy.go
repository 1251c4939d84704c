package entcache

import (
	"context"
	"sync"
)

// Lazy is a store handle whose Open is deferred. With lazy=false the open
// starts immediately in the background; either way every method waits for
// it and returns its error.
type Lazy[V any] struct {
	open func() (Store[V], error)
}

// NewLazy prepares Open(ctx, r, entity, opts). ctx must outlive the first
// use of the handle.
func NewLazy[V any](ctx context.Context, r *Registry, entity string, opts Options[V], lazy bool) *Lazy[V] {
	l := &Lazy[V]{open: sync.OnceValues(func() (Store[V], error) {
		return Open(ctx, r, entity, opts)
	})}
	if !lazy {
		go l.open()
	}
	return l
}

// Store waits for the open and returns the underlying store.
func (l *Lazy[V]) Store() (Store[V], error) { return l.open() }

func (l *Lazy[V]) Get(ctx context.Context, id string) (V, bool, error) {
	st, err := l.open()
	if err != nil {
		var zero V
		return zero, false, err
	}
	return st.Get(ctx, id)
}

func (l *Lazy[V]) GetEntry(ctx context.Context, id string) (Entry[V], error) {
	st, err := l.open()
	if err != nil {
		return Entry[V]{ID: id}, err
	}
	return st.GetEntry(ctx, id)
}

func (l *Lazy[V]) GetAll(ctx context.Context) ([]Entry[V], error) {
	st, err := l.open()
	if err != nil {
		return nil, err
	}
	return st.GetAll(ctx), nil
}

func (l *Lazy[V]) Set(ctx context.Context, id string, value V, opts ...WriteOption) error {
	st, err := l.open()
	if err != nil {
		return err
	}
	return st.Set(ctx, id, value, opts...)
}

func (l *Lazy[V]) Remove(ctx context.Context, id string, opts ...WriteOption) error {
	st, err := l.open()
	if err != nil {
		return err
	}
	return st.Remove(ctx, id, opts...)
}
