package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Local is a process-wide monotonic millisecond clock. When two calls land
// in the same millisecond (or wall time steps backwards) the second one gets
// last+1, so values never repeat regardless of key.
type Local struct {
	last atomic.Int64
	now  func() time.Time
}

var _ Clock = (*Local)(nil)

func NewLocal() *Local { return &Local{now: time.Now} }

// NewLocalWith uses now as the wall clock source.
func NewLocalWith(now func() time.Time) *Local { return &Local{now: now} }

func (c *Local) Now(_ context.Context, _ string) (int64, error) {
	for {
		prev := c.last.Load()
		t := c.now().UnixMilli()
		if t <= prev {
			t = prev + 1
		}
		if c.last.CompareAndSwap(prev, t) {
			return t, nil
		}
	}
}
