package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/unkn0wn-root/entcache"
	"github.com/unkn0wn-root/entcache/persist"
)

const (
	KeyPersistURL = "cache-persist-url"
	KeyEntityKey  = "cache-entity-key"
	KeyLazyLoad   = "cache-lazy-load"
)

const (
	defaultEntityKey = "value"
)

// Settings are the resolved values for one entity.
type Settings struct {
	PersistURL  string
	Persistence string // backend name; "" means disabled
	EntityKey   string
	LazyLoad    bool
}

// Layers are the sources Resolve reads.
type Layers struct {
	// Env looks up an environment variable; nil uses os.LookupEnv.
	Env func(key string) (string, bool)
	// Options are caller-supplied values keyed by option name.
	Options map[string]string
	// Args are command-line arguments. Flags Resolve does not know are
	// skipped, as are positional arguments.
	Args []string
}

// PersistenceKey is the option/flag name of entity's persistence setting.
func PersistenceKey(entity string) string { return entity + "-persistence" }

// PersistenceEnv is the environment variable of entity's persistence
// setting.
func PersistenceEnv(entity string) string { return envName(entity) + "_PERSISTENCE" }

func legacyPersistenceKey(entity string) string { return entity + "-persistance" }
func legacyPersistenceEnv(entity string) string { return envName(entity) + "_PERSISTANCE" }

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, strings.ToUpper(s))
}

// Resolve computes entity's settings from l.
func Resolve(entity string, l Layers) (Settings, error) {
	if entity == "" {
		return Settings{}, entcache.ErrEmptyEntity
	}
	env := l.Env
	if env == nil {
		env = os.LookupEnv
	}
	args, err := parseArgs(entity, l.Args)
	if err != nil {
		return Settings{}, err
	}

	pick := func(envKeys []string, optKeys []string) string {
		for _, k := range envKeys {
			if v, ok := env(k); ok && v != "" {
				return v
			}
		}
		for _, k := range optKeys {
			if v := l.Options[k]; v != "" {
				return v
			}
		}
		for _, k := range optKeys {
			if v := args[k]; v != "" {
				return v
			}
		}
		return ""
	}

	s := Settings{
		PersistURL: pick([]string{"CACHE_PERSIST_URL"}, []string{KeyPersistURL}),
		EntityKey:  pick([]string{"CACHE_ENTITY_KEY"}, []string{KeyEntityKey}),
	}
	if s.PersistURL == "false" {
		s.PersistURL = ""
	}
	if s.EntityKey == "" {
		s.EntityKey = defaultEntityKey
	}

	switch p := pick(
		[]string{PersistenceEnv(entity), legacyPersistenceEnv(entity)},
		[]string{PersistenceKey(entity), legacyPersistenceKey(entity)},
	); p {
	case "", "false":
	case "true":
		s.Persistence = persist.Entity
	default:
		s.Persistence = p
	}

	if lazy := pick([]string{"CACHE_LAZY_LOAD"}, []string{KeyLazyLoad}); lazy != "" {
		b, err := strconv.ParseBool(lazy)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", KeyLazyLoad, err)
		}
		s.LazyLoad = b
	}
	return s, nil
}

// parseArgs pulls the known --name=value flags out of args.
func parseArgs(entity string, args []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(args) == 0 {
		return out, nil
	}

	fs := pflag.NewFlagSet("entcache", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	names := []string{KeyPersistURL, KeyEntityKey, PersistenceKey(entity), legacyPersistenceKey(entity)}
	for _, n := range names {
		fs.String(n, "", "")
	}
	fs.String(KeyLazyLoad, "", "")
	fs.Lookup(KeyLazyLoad).NoOptDefVal = "true"

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return out, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	fs.Visit(func(f *pflag.Flag) { out[f.Name] = f.Value.String() })
	return out, nil
}

// LoadFile reads options from a flat TOML table:
//
//	cache-persist-url = "/var/lib/app/cache"
//	users-persistence = "key"
//	cache-lazy-load   = true
//
// A missing file yields no options and no error. Non-string values are
// rendered with fmt, so booleans become "true"/"false".
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			out[k] = v
		case map[string]any, []any, []map[string]any:
			return nil, fmt.Errorf("config: %s: %q must be a scalar", path, k)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// Apply copies s onto base.
func Apply[V any](s Settings, base entcache.Options[V]) entcache.Options[V] {
	base.PersistURL = s.PersistURL
	base.Persistence = s.Persistence
	base.EntityKey = s.EntityKey
	return base
}

// Open resolves entity's settings and returns a handle that opens the store
// now or, with lazy loading, on first use.
func Open[V any](ctx context.Context, r *entcache.Registry, entity string, l Layers, base entcache.Options[V]) (*entcache.Lazy[V], Settings, error) {
	s, err := Resolve(entity, l)
	if err != nil {
		return nil, Settings{}, err
	}
	return entcache.NewLazy(ctx, r, entity, Apply(s, base), s.LazyLoad), s, nil
}
