package entcache

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger Logger // nil => NopLogger
}

// Registry holds at most one open store per entity name. It is the owner of
// every store it opens; Close closes them all.
type Registry struct {
	log Logger

	mu    sync.Mutex
	slots map[string]*entitySlot
}

// entitySlot serializes opens for one entity name without blocking opens
// of other names behind a slow hydration.
type entitySlot struct {
	mu sync.Mutex
	st closer
}

type closer interface {
	Entity() string
	Close(ctx context.Context) error
}

func NewRegistry(opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = NopLogger{}
	}
	return &Registry{log: log, slots: make(map[string]*entitySlot)}
}

func (r *Registry) slot(entity string) *entitySlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.slots[entity]
	if !ok {
		sl = &entitySlot{}
		r.slots[entity] = sl
	}
	return sl
}

// Open returns the store registered for entity, creating it from opts on
// first use. Later callers get the original store whatever options they
// pass, unless opts.Purge is set: then the old store is closed (its queued
// writes drained) and a fresh one is built and hydrated from opts.
//
// A failed creation registers nothing; the next Open tries again.
func Open[V any](ctx context.Context, r *Registry, entity string, opts Options[V]) (Store[V], error) {
	if entity == "" {
		return nil, ErrEmptyEntity
	}
	sl := r.slot(entity)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.st != nil && !opts.Purge {
		st, ok := sl.st.(*store[V])
		if !ok {
			return nil, ErrTypeMismatch
		}
		return st, nil
	}

	if sl.st != nil {
		if err := sl.st.Close(ctx); err != nil {
			r.log.Warn("closing purged store", Fields{"entity": entity, "err": err})
		}
		sl.st = nil
		r.log.Info("purged entity", Fields{"entity": entity})
	}

	st, err := newStore(ctx, entity, opts)
	if err != nil {
		return nil, err
	}
	sl.st = st
	return st, nil
}

// Purge closes and forgets the store for entity. The next Open builds a new
// one. Purging an entity that is not open is a no-op.
func (r *Registry) Purge(ctx context.Context, entity string) error {
	r.mu.Lock()
	sl, ok := r.slots[entity]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.st == nil {
		return nil
	}
	err := sl.st.Close(ctx)
	sl.st = nil
	return err
}

// Entities lists the names with an open store, sorted.
func (r *Registry) Entities() []string {
	r.mu.Lock()
	slots := make(map[string]*entitySlot, len(r.slots))
	for k, v := range r.slots {
		slots[k] = v
	}
	r.mu.Unlock()

	out := make([]string, 0, len(slots))
	for name, sl := range slots {
		sl.mu.Lock()
		if sl.st != nil {
			out = append(out, name)
		}
		sl.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Close closes every open store concurrently, each under ctx, and returns
// the first error once all of them have finished.
// The registry stays usable; closed entities reopen on the next Open.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	slots := make([]*entitySlot, 0, len(r.slots))
	for _, sl := range r.slots {
		slots = append(slots, sl)
	}
	r.mu.Unlock()

	// Each store drains under ctx whatever the others return.
	var g errgroup.Group
	for _, sl := range slots {
		g.Go(func() error {
			sl.mu.Lock()
			defer sl.mu.Unlock()
			if sl.st == nil {
				return nil
			}
			err := sl.st.Close(ctx)
			sl.st = nil
			return err
		})
	}
	return g.Wait()
}
