package entcache

import (
	"context"

	"github.com/unkn0wn-root/entcache/broadcast"
	"github.com/unkn0wn-root/entcache/clock"
	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/persist"
	pr "github.com/unkn0wn-root/entcache/provider"
)

// Entry is the stored record for one id. Timestamp is Unix milliseconds of
// the last write; 0 for seeded defaults and for placeholders of missing ids.
type Entry[V any] struct {
	ID        string
	Value     V
	Timestamp int64
}

// Store is the handle for one entity.
type Store[V any] interface {
	Entity() string

	// Get returns the value for id; ok=false if the id is unknown.
	Get(ctx context.Context, id string) (v V, ok bool, err error)
	// GetEntry returns the entry for id, or {id, zero, 0} if unknown.
	// With key-granular persistence a miss loads that one id from storage.
	GetEntry(ctx context.Context, id string) (Entry[V], error)
	// GetAll returns the entries currently in memory, sorted by id.
	GetAll(ctx context.Context) []Entry[V]

	Set(ctx context.Context, id string, value V, opts ...WriteOption) error
	// Remove deletes id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string, opts ...WriteOption) error

	// Flush waits until queued persistence writes have been attempted.
	Flush(ctx context.Context) error
	// Close stops receiving sibling updates and drains queued writes.
	// Reads keep working on the in-memory view; writes fail with ErrClosed.
	Close(ctx context.Context) error
}

// Options configure a store. Everything is optional.
type Options[V any] struct {
	// Defaults seeds memory before hydration (timestamp 0). A stored entity
	// document replaces them wholesale.
	Defaults map[string]V

	// Persistence names the backend: "" or "false" disables persistence;
	// persist.Entity, persist.Key, persist.Provider, persist.ProviderEntity,
	// or anything added with persist.Register.
	Persistence string
	PersistURL  string // root directory for file backends; "" => "."
	EntityKey   string // value field name in entity documents; "" => "value"

	// Purge discards any store already open for the entity in the registry
	// and builds a fresh one from these options.
	Purge bool

	// Codec encodes values for key/provider payloads and sync messages.
	// nil => JSON. Entity documents always embed values as JSON.
	Codec        c.Codec[V]
	MaxValueSize int // decode limit for stored and received payloads; 0 => none

	FS        persist.FS      // file backends; nil => OS filesystem
	Provider  pr.Provider     // provider backends
	Backend   persist.Backend // overrides Persistence when set

	Transport broadcast.Transport // nil => no cross-process sync
	Clock     clock.Clock         // nil => clock.NewLocal()
	Logger    Logger              // nil => NopLogger
	Hooks     Hooks               // nil => NopHooks

	SyncWrites bool // write inline and return persistence errors
	WriteQueue int  // queued writes before Set blocks; 0 => 256
}

type writeOptions struct {
	broadcast bool
}

// WriteOption tweaks a single Set or Remove.
type WriteOption func(*writeOptions)

// NoBroadcast applies the mutation locally (and to storage) without telling
// sibling processes. Remote mutations are applied this way.
func NoBroadcast() WriteOption {
	return func(o *writeOptions) { o.broadcast = false }
}

func collectWriteOptions(opts []WriteOption) writeOptions {
	wo := writeOptions{broadcast: true}
	for _, o := range opts {
		o(&wo)
	}
	return wo
}
