package entcache

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/unkn0wn-root/entcache/broadcast"
	"github.com/unkn0wn-root/entcache/clock"
	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/persist"
)

// slot is one cached entry plus the payload last handed to a document
// backend, so snapshots never re-encode the whole entity.
type slot[V any] struct {
	e   Entry[V]
	raw []byte
}

type store[V any] struct {
	entity string

	codec     c.Codec[V] // sync messages and keyed payloads
	docCodec  c.Codec[V] // document payloads
	docJSON   bool       // docCodec is forced JSON, distinct from codec
	doc       persist.DocumentBackend
	keyed     persist.KeyedBackend
	idCheck   persist.IDChecker
	clock     clock.Clock
	ch        *broadcast.Channel
	unsub     func()
	w         *writer
	syncWrite bool

	log   Logger
	hooks Hooks

	mu     sync.RWMutex
	data   map[string]slot[V]
	probed map[string]struct{} // ids whose storage record was consulted or superseded
	closed bool
}

var _ Store[int] = (*store[int])(nil)

func newStore[V any](ctx context.Context, entity string, opts Options[V]) (*store[V], error) {
	if entity == "" {
		return nil, ErrEmptyEntity
	}

	var cd c.Codec[V] = c.JSON[V]{}
	if opts.Codec != nil {
		cd = opts.Codec
	}
	cd = limitDecode(cd, opts.MaxValueSize)

	s := &store[V]{
		entity:    entity,
		codec:     cd,
		docCodec:  cd,
		clock:     opts.Clock,
		syncWrite: opts.SyncWrites,
		log:       opts.Logger,
		hooks:     opts.Hooks,
		data:      make(map[string]slot[V], len(opts.Defaults)),
		probed:    make(map[string]struct{}),
	}
	if s.clock == nil {
		s.clock = clock.NewLocal()
	}
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}

	backend := opts.Backend
	if backend == nil && !persistenceDisabled(opts.Persistence) {
		b, err := persist.Open(opts.Persistence, persist.Config{
			Root:       coalesce(opts.PersistURL, defaultPersistURL),
			ValueField: coalesce(opts.EntityKey, defaultEntityKey),
			FS:         opts.FS,
			Provider:   opts.Provider,
		})
		if err != nil {
			return nil, &OpError{Op: "open", Entity: entity, Err: err}
		}
		backend = b
	}
	if backend != nil {
		switch b := backend.(type) {
		case persist.DocumentBackend:
			s.doc = b
		case persist.KeyedBackend:
			s.keyed = b
		default:
			return nil, &OpError{Op: "open", Entity: entity, Err: persist.ErrUnknownBackend}
		}
		if jp, ok := backend.(persist.JSONPayloads); ok && jp.JSONPayloads() {
			s.docCodec = limitDecode[V](c.JSON[V]{}, opts.MaxValueSize)
			s.docJSON = true
		}
		s.idCheck, _ = backend.(persist.IDChecker)
		if rp, ok := backend.(persist.RawPayloads); ok && rp.RawPayloads() && opts.Codec == nil {
			if rc, ok := c.Raw[V](); ok {
				s.codec = limitDecode(rc, opts.MaxValueSize)
			}
		}
	}

	for id, v := range opts.Defaults {
		sl := slot[V]{e: Entry[V]{ID: id, Value: v}}
		if s.doc != nil {
			raw, err := s.docCodec.Encode(v)
			if err != nil {
				return nil, &OpError{Op: "encode", Entity: entity, ID: id, Err: err}
			}
			sl.raw = raw
		}
		s.data[id] = sl
	}

	if s.doc != nil {
		if err := s.hydrate(ctx); err != nil {
			return nil, err
		}
	}

	if backend != nil && !s.syncWrite {
		s.w = newWriter(coalesce(opts.WriteQueue, defaultWriteQueue), s.reportPersist)
	}

	if opts.Transport != nil {
		s.ch = broadcast.NewChannel(opts.Transport, entity)
		unsub, err := s.ch.Subscribe(ctx, s.applyRemote, func(err error) {
			s.log.Warn("rejected sibling message", Fields{"entity": entity, "err": err})
			s.hooks.RemoteRejected(entity, err)
		})
		if err != nil {
			if s.w != nil {
				_ = s.w.close(ctx)
			}
			return nil, &OpError{Op: "open", Entity: entity, Err: err}
		}
		s.unsub = unsub
	}

	return s, nil
}

func limitDecode[V any](cd c.Codec[V], n int) c.Codec[V] {
	if n > 0 {
		return c.Limit[V]{Inner: cd, MaxDecode: n}
	}
	return cd
}

func (s *store[V]) Entity() string { return s.entity }

// hydrate replaces memory with the stored document, if there is one.
func (s *store[V]) hydrate(ctx context.Context) error {
	recs, ok, err := s.doc.LoadDocument(ctx, s.entity)
	if err != nil {
		s.hooks.HydrateFailed(s.entity, "", err)
		return &OpError{Op: "hydrate", Entity: s.entity, Err: err}
	}
	if !ok {
		return nil
	}

	data := make(map[string]slot[V], len(recs))
	for _, r := range recs {
		var v V
		if r.Payload != nil {
			v, err = s.docCodec.Decode(r.Payload)
			if err != nil {
				s.hooks.HydrateFailed(s.entity, r.ID, err)
				return &OpError{Op: "decode", Entity: s.entity, ID: r.ID, Err: err}
			}
		}
		raw := r.Payload
		if raw == nil {
			if raw, err = s.docCodec.Encode(v); err != nil {
				return &OpError{Op: "encode", Entity: s.entity, ID: r.ID, Err: err}
			}
		}
		data[r.ID] = slot[V]{e: Entry[V]{ID: r.ID, Value: v, Timestamp: r.Timestamp}, raw: raw}
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	s.log.Debug("hydrated entity", Fields{"entity": s.entity, "count": len(data), "backend": s.doc.Name()})
	s.hooks.Hydrated(s.entity, "", len(data))
	return nil
}

func (s *store[V]) Get(ctx context.Context, id string) (V, bool, error) {
	e, ok, err := s.lookup(ctx, id)
	return e.Value, ok, err
}

func (s *store[V]) GetEntry(ctx context.Context, id string) (Entry[V], error) {
	e, _, err := s.lookup(ctx, id)
	return e, err
}

func (s *store[V]) lookup(ctx context.Context, id string) (Entry[V], bool, error) {
	miss := Entry[V]{ID: id}

	s.mu.RLock()
	sl, ok := s.data[id]
	_, probed := s.probed[id]
	s.mu.RUnlock()
	if ok {
		return sl.e, true, nil
	}
	if s.keyed == nil || probed || id == "" {
		return miss, false, nil
	}
	if s.idCheck != nil && s.idCheck.CheckID(id) != nil {
		return miss, false, nil
	}

	rec, found, err := s.keyed.LoadKey(ctx, s.entity, id)
	if err != nil {
		s.hooks.HydrateFailed(s.entity, id, err)
		return miss, false, &OpError{Op: "hydrate", Entity: s.entity, ID: id, Err: err}
	}
	var loaded Entry[V]
	if found {
		v, err := s.codec.Decode(rec.Payload)
		if err != nil {
			s.hooks.HydrateFailed(s.entity, id, err)
			return miss, false, &OpError{Op: "decode", Entity: s.entity, ID: id, Err: err}
		}
		loaded = Entry[V]{ID: id, Value: v, Timestamp: rec.Timestamp}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A write or remove that landed while we were reading wins over storage.
	if _, done := s.probed[id]; done {
		cur, ok := s.data[id]
		if !ok {
			return miss, false, nil
		}
		return cur.e, true, nil
	}
	s.probed[id] = struct{}{}
	if !found {
		return miss, false, nil
	}
	s.data[id] = slot[V]{e: loaded}
	s.hooks.Hydrated(s.entity, id, 1)
	return loaded, true, nil
}

func (s *store[V]) GetAll(_ context.Context) []Entry[V] {
	s.mu.RLock()
	out := make([]Entry[V], 0, len(s.data))
	for _, sl := range s.data {
		out = append(out, sl.e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *store[V]) Set(ctx context.Context, id string, value V, opts ...WriteOption) error {
	return s.set(ctx, id, value, collectWriteOptions(opts))
}

func (s *store[V]) set(ctx context.Context, id string, value V, wo writeOptions) error {
	if id == "" {
		return ErrEmptyID
	}
	if s.idCheck != nil {
		if err := s.idCheck.CheckID(id); err != nil {
			return &OpError{Op: "check", Entity: s.entity, ID: id, Err: err}
		}
	}

	publish := wo.broadcast && s.ch != nil
	var payload, raw []byte
	if publish || s.keyed != nil {
		b, err := s.codec.Encode(value)
		if err != nil {
			return &OpError{Op: "encode", Entity: s.entity, ID: id, Err: err}
		}
		payload = b
	}
	if s.doc != nil {
		if !s.docJSON && payload != nil {
			raw = payload
		} else {
			b, err := s.docCodec.Encode(value)
			if err != nil {
				return &OpError{Op: "encode", Entity: s.entity, ID: id, Err: err}
			}
			raw = b
		}
	}

	ts, err := s.clock.Now(ctx, s.entity+":"+id)
	if err != nil {
		return &OpError{Op: "clock", Entity: s.entity, ID: id, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if prev, ok := s.data[id]; ok && ts <= prev.e.Timestamp {
		ts = prev.e.Timestamp + 1
	}
	s.data[id] = slot[V]{e: Entry[V]{ID: id, Value: value, Timestamp: ts}, raw: raw}
	s.probed[id] = struct{}{}

	var job func(context.Context) error
	switch {
	case s.doc != nil:
		recs := s.snapshotLocked()
		job = func(ctx context.Context) error { return s.doc.WriteDocument(ctx, s.entity, recs) }
	case s.keyed != nil:
		rec := persist.Record{ID: id, Payload: payload, Timestamp: ts}
		job = func(ctx context.Context) error { return s.keyed.WriteKey(ctx, s.entity, rec) }
	}
	perr := s.persistLocked(ctx, id, job)
	s.mu.Unlock()

	if publish {
		s.publish(ctx, broadcast.Message{Kind: broadcast.KindSet, ID: id, Value: payload})
	}
	return perr
}

func (s *store[V]) Remove(ctx context.Context, id string, opts ...WriteOption) error {
	return s.remove(ctx, id, collectWriteOptions(opts))
}

func (s *store[V]) remove(ctx context.Context, id string, wo writeOptions) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, existed := s.data[id]
	delete(s.data, id)
	s.probed[id] = struct{}{}

	var job func(context.Context) error
	switch {
	case s.doc != nil && existed:
		recs := s.snapshotLocked()
		job = func(ctx context.Context) error { return s.doc.WriteDocument(ctx, s.entity, recs) }
	case s.keyed != nil && (s.idCheck == nil || s.idCheck.CheckID(id) == nil):
		// The id may exist in storage without ever having been loaded.
		job = func(ctx context.Context) error { return s.keyed.DeleteKey(ctx, s.entity, id) }
	}
	perr := s.persistLocked(ctx, id, job)
	s.mu.Unlock()

	if wo.broadcast && s.ch != nil {
		s.publish(ctx, broadcast.Message{Kind: broadcast.KindRemove, ID: id})
	}
	return perr
}

// snapshotLocked renders memory as document records, sorted by id.
// Caller holds s.mu.
func (s *store[V]) snapshotLocked() []persist.Record {
	recs := make([]persist.Record, 0, len(s.data))
	for id, sl := range s.data {
		recs = append(recs, persist.Record{ID: id, Payload: sl.raw, Timestamp: sl.e.Timestamp})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

// persistLocked runs job inline (SyncWrites) or queues it. Queuing under
// s.mu keeps storage order equal to memory order. Caller holds s.mu.
func (s *store[V]) persistLocked(ctx context.Context, id string, job func(context.Context) error) error {
	if job == nil {
		return nil
	}
	if s.w == nil {
		if err := job(ctx); err != nil {
			s.reportPersist(id, err)
			return &OpError{Op: "persist", Entity: s.entity, ID: id, Err: err}
		}
		return nil
	}
	return s.w.enqueue(id, job)
}

func (s *store[V]) reportPersist(id string, err error) {
	f := fields(s.entity, id)
	f["err"] = err
	s.log.Error("persist failed", f)
	s.hooks.PersistFailed(s.entity, id, err)
}

func (s *store[V]) publish(ctx context.Context, m broadcast.Message) {
	if err := s.ch.Publish(ctx, m); err != nil {
		f := fields(s.entity, m.ID)
		f["kind"] = m.Kind.String()
		f["err"] = err
		s.log.Warn("publish failed", f)
		s.hooks.PublishFailed(s.entity, m.ID, err)
	}
}

// applyRemote applies a sibling's mutation locally without publishing it
// again.
func (s *store[V]) applyRemote(m broadcast.Message) {
	ctx := context.Background()
	local := writeOptions{broadcast: false}

	var err error
	switch m.Kind {
	case broadcast.KindSet:
		var v V
		v, err = s.codec.Decode(m.Value)
		if err != nil {
			err = &OpError{Op: "decode", Entity: s.entity, ID: m.ID, Err: err}
			break
		}
		err = s.set(ctx, m.ID, v, local)
	case broadcast.KindRemove:
		err = s.remove(ctx, m.ID, local)
	default:
		err = broadcast.ErrBadMessage
	}

	if err != nil {
		var oe *OpError
		if errors.Is(err, ErrClosed) || (errors.As(err, &oe) && oe.Op == "persist") {
			// closed stores ignore stragglers; persist failures were already reported
			return
		}
		f := fields(s.entity, m.ID)
		f["err"] = err
		s.log.Warn("sibling update rejected", f)
		s.hooks.RemoteRejected(s.entity, err)
		return
	}
	s.log.Debug("applied sibling update", Fields{"entity": s.entity, "id": m.ID, "kind": m.Kind.String()})
	s.hooks.RemoteApplied(s.entity, m.Kind.String(), m.ID)
}

func (s *store[V]) Flush(ctx context.Context) error {
	if s.w == nil {
		return nil
	}
	return s.w.flush(ctx)
}

func (s *store[V]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.unsub != nil {
		s.unsub()
	}
	if s.w != nil {
		return s.w.close(ctx)
	}
	return nil
}
