// Package cli implements the entcache command: inspect and edit one
// entity's cache from a shell, optionally in sync with other processes
// over Redis.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/entcache"
	bredis "github.com/unkn0wn-root/entcache/broadcast/redis"
	"github.com/unkn0wn-root/entcache/clock"
	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/config"
	asynchook "github.com/unkn0wn-root/entcache/hooks/async"
	zapadapter "github.com/unkn0wn-root/entcache/log/zap"
	"github.com/unkn0wn-root/entcache/persist"
	pr "github.com/unkn0wn-root/entcache/provider"
	"github.com/unkn0wn-root/entcache/provider/bigcache"
	"github.com/unkn0wn-root/entcache/provider/ristretto"
	predis "github.com/unkn0wn-root/entcache/provider/redis"
	"github.com/unkn0wn-root/entcache/sloghooks"
)

type app struct {
	entity      string
	dir         string
	persistence string
	entityKey   string
	configPath  string
	redisAddr   string
	redisPrefix string
	provider    string
	codec       string
	syncWrites  bool
	verbose     bool

	log     *zap.Logger
	reg     *entcache.Registry
	hooks   entcache.Hooks
	closers []func(context.Context) error
}

// Execute runs the command line in os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Resources opened by a subcommand are
// released when it returns.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "entcache",
		Short:         "Inspect and edit a persisted entity cache",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.entity, "entity", "e", "default", "entity name")
	pf.StringVar(&a.dir, "dir", "", "persistence root (cache-persist-url)")
	pf.StringVar(&a.persistence, "persistence", "", "backend: entity, key, provider, provider-entity or false")
	pf.StringVar(&a.entityKey, "entity-key", "", "value field name in entity documents")
	pf.StringVar(&a.configPath, "config", "", "TOML file with cache options")
	pf.StringVar(&a.redisAddr, "redis", "", "Redis address; enables sync with other processes")
	pf.StringVar(&a.redisPrefix, "redis-prefix", bredis.DefaultPrefix, "prefix for Redis channels and keys")
	pf.StringVar(&a.provider, "provider", "", "byte store for provider backends: redis, bigcache or ristretto")
	pf.StringVar(&a.codec, "codec", "", "payload codec: json, raw, msgpack or cbor (default raw for key files, json otherwise)")
	pf.BoolVar(&a.syncWrites, "sync-writes", false, "write to storage before returning")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(getCmd(a), setCmd(a), rmCmd(a), lsCmd(a), watchCmd(a))
	return root
}

func (a *app) setup() error {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if a.verbose {
		zc = zap.NewDevelopmentConfig()
	}
	l, err := zc.Build()
	if err != nil {
		return err
	}
	a.log = l
	a.closers = append(a.closers, func(context.Context) error {
		_ = l.Sync()
		return nil
	})

	a.hooks = entcache.NopHooks{}
	if a.verbose {
		sl := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		h := asynchook.New(sloghooks.New(sl, sloghooks.Options{Redact: func(s string) string { return s }}), 1, 256)
		a.hooks = h
		a.closers = append(a.closers, func(context.Context) error { h.Close(); return nil })
	}

	a.reg = entcache.NewRegistry(entcache.RegistryOptions{Logger: zapadapter.New(l)})
	return nil
}

// close drains the registry's stores, then runs closers in reverse.
func (a *app) close() {
	ctx := context.Background()
	if a.reg != nil {
		if err := a.reg.Close(ctx); err != nil {
			a.log.Warn("closing stores", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.log != nil {
			a.log.Warn("shutdown", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) layers() (config.Layers, error) {
	opts := map[string]string{}
	if a.configPath != "" {
		fileOpts, err := config.LoadFile(a.configPath)
		if err != nil {
			return config.Layers{}, err
		}
		opts = fileOpts
	}
	// explicit flags win over the file
	if a.dir != "" {
		opts[config.KeyPersistURL] = a.dir
	}
	if a.persistence != "" {
		opts[config.PersistenceKey(a.entity)] = a.persistence
	}
	if a.entityKey != "" {
		opts[config.KeyEntityKey] = a.entityKey
	}
	return config.Layers{Options: opts}, nil
}

// rawText writes JSON strings unquoted and any other value as its JSON text.
// Reads go through parseValue, so a number stored raw comes back a number.
type rawText struct{}

func (rawText) Encode(v json.RawMessage) ([]byte, error) {
	var s string
	if json.Unmarshal(v, &s) == nil {
		return []byte(s), nil
	}
	return v, nil
}

func (rawText) Decode(b []byte) (json.RawMessage, error) { return parseValue(string(b)) }

// payloadCodec picks --codec. Unset means raw for key files and JSON elsewhere.
func (a *app) payloadCodec(persistence string) (c.Codec[json.RawMessage], error) {
	name := a.codec
	if name == "" && persistence == persist.Key {
		name = "raw"
	}
	switch name {
	case "", "json":
		return c.JSON[json.RawMessage]{}, nil
	case "raw", "string":
		return rawText{}, nil
	case "msgpack":
		return c.Msgpack[json.RawMessage]{}, nil
	case "cbor":
		return c.NewCBOR[json.RawMessage](true)
	default:
		return nil, fmt.Errorf("unknown codec %q", a.codec)
	}
}

func (a *app) redisClient() goredis.UniversalClient {
	rdb := goredis.NewClient(&goredis.Options{Addr: a.redisAddr})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	return rdb
}

func (a *app) byteStore(ctx context.Context, rdb goredis.UniversalClient) (pr.Provider, error) {
	var (
		p   pr.Provider
		err error
	)
	switch a.provider {
	case "":
		return nil, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("--provider redis needs --redis")
		}
		p, err = predis.New(predis.Config{Client: rdb, Prefix: a.redisPrefix})
	case "bigcache":
		p, err = bigcache.New(ctx, bigcache.Config{})
	case "ristretto":
		p, err = ristretto.New(ristretto.Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64})
	default:
		return nil, fmt.Errorf("unknown provider %q", a.provider)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// open builds the store for --entity. extra adjusts the options last.
func (a *app) open(ctx context.Context, extra func(*entcache.Options[json.RawMessage])) (entcache.Store[json.RawMessage], error) {
	l, err := a.layers()
	if err != nil {
		return nil, err
	}
	s, err := config.Resolve(a.entity, l)
	if err != nil {
		return nil, err
	}
	cd, err := a.payloadCodec(s.Persistence)
	if err != nil {
		return nil, err
	}

	opts := config.Apply(s, entcache.Options[json.RawMessage]{
		Codec:      cd,
		Logger:     zapadapter.New(a.log),
		Hooks:      a.hooks,
		SyncWrites: a.syncWrites,
	})

	var rdb goredis.UniversalClient
	if a.redisAddr != "" {
		rdb = a.redisClient()
		t, err := bredis.New(bredis.Config{Client: rdb, Prefix: a.redisPrefix})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return t.Close() })
		opts.Transport = t
		opts.Clock = clock.NewRedis(rdb, strings.TrimSuffix(a.redisPrefix, ":"))
	}
	if opts.Provider, err = a.byteStore(ctx, rdb); err != nil {
		return nil, err
	}
	if extra != nil {
		extra(&opts)
	}

	a.log.Debug("opening entity",
		zap.String("entity", a.entity),
		zap.String("persistence", s.Persistence),
		zap.String("root", s.PersistURL))
	return entcache.Open(ctx, a.reg, a.entity, opts)
}
