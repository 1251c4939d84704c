// Package broadcast carries entity mutations between processes that share
// an entity name.
//
// A Transport moves opaque payloads on named channels. Channel layers the
// mutation messages on top: Set and Remove, tagged with the publishing
// channel's origin so a transport that loops messages back to the publisher
// (Redis Pub/Sub does) cannot make a process re-apply its own writes.
// Receivers always apply a message without publishing it again.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Transport is the inter-process delivery mechanism. Delivery is
// fire-and-forget: no acknowledgments, no retries.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe invokes handler for each payload delivered on channel until
	// cancel is called.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (cancel func(), err error)
}

type Kind uint8

const (
	KindSet Kind = iota + 1
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindRemove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one mutation. Value holds the encoded value for KindSet and is
// empty for KindRemove.
type Message struct {
	Kind  Kind
	ID    string
	Value []byte
}

var ErrBadMessage = errors.New("entcache: malformed sync message")

type envelope struct {
	Origin string `msgpack:"o"`
	Kind   Kind   `msgpack:"k"`
	ID     string `msgpack:"i"`
	Value  []byte `msgpack:"v,omitempty"`
}

// Channel publishes and receives Messages for one entity.
type Channel struct {
	t      Transport
	name   string
	origin string
}

func NewChannel(t Transport, name string) *Channel {
	return &Channel{t: t, name: name, origin: uuid.NewString()}
}

func (c *Channel) Name() string   { return c.name }
func (c *Channel) Origin() string { return c.origin }

func (c *Channel) Publish(ctx context.Context, m Message) error {
	b, err := msgpack.Marshal(envelope{Origin: c.origin, Kind: m.Kind, ID: m.ID, Value: m.Value})
	if err != nil {
		return err
	}
	return c.t.Publish(ctx, c.name, b)
}

// Subscribe delivers every foreign message to fn. Payloads that do not
// decode to a known message go to onErr (which may be nil).
func (c *Channel) Subscribe(ctx context.Context, fn func(Message), onErr func(error)) (func(), error) {
	return c.t.Subscribe(ctx, c.name, func(payload []byte) {
		var env envelope
		if err := msgpack.Unmarshal(payload, &env); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("%w: %v", ErrBadMessage, err))
			}
			return
		}
		if env.Origin == c.origin {
			return
		}
		if (env.Kind != KindSet && env.Kind != KindRemove) || env.ID == "" {
			if onErr != nil {
				onErr(fmt.Errorf("%w: kind=%s id=%q", ErrBadMessage, env.Kind, env.ID))
			}
			return
		}
		fn(Message{Kind: env.Kind, ID: env.ID, Value: env.Value})
	})
}
