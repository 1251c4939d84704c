// Package clock supplies entry timestamps. A Clock must hand out strictly
// increasing values for the same key; values are Unix milliseconds.
package clock

import (
	"context"
)

type Clock interface {
	// Now returns the timestamp for the next write of key.
	Now(ctx context.Context, key string) (int64, error)
}

// Func adapts a plain function, mostly for tests.
type Func func(ctx context.Context, key string) (int64, error)

func (f Func) Now(ctx context.Context, key string) (int64, error) { return f(ctx, key) }
