// Package persist holds the persistence strategies an entity store delegates
// to. Backends are stateless: every call receives the entity name and the
// backend keeps nothing between calls beyond its configuration.
//
// Two granularities exist:
//
//   - DocumentBackend: one document holds the whole entity ("entity",
//     "provider-entity"). Writes replace the document; loads replace the
//     in-memory table wholesale.
//   - KeyedBackend: one record per id ("key", "provider"). Loads happen per
//     id, on demand.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/unkn0wn-root/entcache/provider"
)

// Built-in backend names.
const (
	Entity         = "entity"
	Key            = "key"
	Provider       = "provider"
	ProviderEntity = "provider-entity"
)

var (
	ErrUnknownBackend = errors.New("entcache: unknown persistence backend")
	ErrInvalidID      = errors.New("entcache: id is not usable as a file name")
	ErrNoProvider     = errors.New("entcache: provider backend requires a provider")
	ErrRejected       = errors.New("entcache: provider rejected write")
	ErrReservedField  = errors.New("entcache: value field name is reserved")
)

// Record is the byte-level form of an entry. Payload is the encoded value
// field only; ID and Timestamp travel beside it.
type Record struct {
	ID        string
	Payload   []byte
	Timestamp int64
}

type Backend interface {
	Name() string
}

type DocumentBackend interface {
	Backend
	// LoadDocument returns ok=false when nothing is stored for the entity.
	LoadDocument(ctx context.Context, entity string) (recs []Record, ok bool, err error)
	// WriteDocument replaces the stored document with recs.
	WriteDocument(ctx context.Context, entity string, recs []Record) error
}

type KeyedBackend interface {
	Backend
	LoadKey(ctx context.Context, entity, id string) (rec Record, ok bool, err error)
	WriteKey(ctx context.Context, entity string, rec Record) error
	// DeleteKey removes the record; a missing record is not an error.
	DeleteKey(ctx context.Context, entity, id string) error
}

// Config parameterizes a backend at Open time.
type Config struct {
	Root       string // directory for file backends
	ValueField string // name of the value field inside entity documents
	FS         FS     // nil => OS filesystem
	Provider   provider.Provider
}

type Factory func(cfg Config) (Backend, error)

var (
	regMu     sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available by name. It panics if name is empty,
// f is nil, or name is already registered.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if name == "" || f == nil {
		panic("entcache: Register with empty name or nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("entcache: Register called twice for backend " + name)
	}
	factories[name] = f
}

// Open builds the backend registered under name.
func Open(name string, cfg Config) (Backend, error) {
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if cfg.FS == nil {
		cfg.FS = OS()
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.ValueField == "" {
		cfg.ValueField = "value"
	}
	return f(cfg)
}

// Names lists registered backends, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(Entity, func(cfg Config) (Backend, error) {
		if err := checkValueField(cfg.ValueField); err != nil {
			return nil, err
		}
		return NewEntityFiles(cfg.FS, cfg.Root, cfg.ValueField), nil
	})
	Register(Key, func(cfg Config) (Backend, error) {
		return NewKeyFiles(cfg.FS, cfg.Root), nil
	})
	Register(Provider, func(cfg Config) (Backend, error) {
		if cfg.Provider == nil {
			return nil, ErrNoProvider
		}
		return NewProviderKeys(cfg.Provider), nil
	})
	Register(ProviderEntity, func(cfg Config) (Backend, error) {
		if cfg.Provider == nil {
			return nil, ErrNoProvider
		}
		return NewProviderDocuments(cfg.Provider), nil
	})
}

// JSONPayloads is implemented by backends that embed payloads in a JSON
// document; callers must hand them JSON-encoded values.
type JSONPayloads interface {
	JSONPayloads() bool
}

// RawPayloads is implemented by backends whose records are meant to hold a
// value's bytes verbatim. Callers that were not given a codec store string
// and []byte values unencoded.
type RawPayloads interface {
	RawPayloads() bool
}

// IDChecker is implemented by backends that restrict which ids they can
// store. Callers check before mutating memory so a write can't fail later
// on the queue for a bad id.
type IDChecker interface {
	CheckID(id string) error
}
