// Package redis is a broadcast.Transport over Redis Pub/Sub.
//
// Redis delivers a publish to every subscriber including the publishing
// connection; broadcast.Channel filters those by origin.
package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/entcache/broadcast"
)

var ErrNilClient = errors.New("redis transport: nil client")

const DefaultPrefix = "entcache:"

type Config struct {
	Client      goredis.UniversalClient
	Prefix      string // channel prefix; "" => DefaultPrefix
	CloseClient bool   // set true only if this transport exclusively owns the client
}

type Transport struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool

	mu     sync.Mutex
	subs   map[*goredis.PubSub]struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ broadcast.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Transport{
		rdb:         cfg.Client,
		prefix:      prefix,
		closeClient: cfg.CloseClient,
		subs:        make(map[*goredis.PubSub]struct{}),
	}, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.rdb.Publish(ctx, t.prefix+channel, payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so a publish
// issued after it returns is not missed.
func (t *Transport) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, goredis.ErrClosed
	}
	t.mu.Unlock()

	ps := t.rdb.Subscribe(ctx, t.prefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ps.Close()
		return nil, goredis.ErrClosed
	}
	t.subs[ps] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		defer t.wg.Done()
		for m := range msgs {
			handler([]byte(m.Payload))
		}
	}()

	return sync.OnceFunc(func() {
		t.mu.Lock()
		delete(t.subs, ps)
		t.mu.Unlock()
		_ = ps.Close()
	}), nil
}

// Close ends every subscription and waits for in-flight handlers.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*goredis.PubSub, 0, len(t.subs))
	for ps := range t.subs {
		subs = append(subs, ps)
	}
	t.subs = nil
	t.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	t.wg.Wait()

	if t.closeClient {
		if err := t.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
