package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalStrictlyIncreasingWithFrozenWallClock(t *testing.T) {
	ctx := context.Background()
	frozen := time.UnixMilli(1000)
	c := NewLocalWith(func() time.Time { return frozen })

	var last int64
	for i := 0; i < 5; i++ {
		ts, err := c.Now(ctx, "id1")
		if err != nil {
			t.Fatal(err)
		}
		if ts <= last {
			t.Fatalf("timestamp %d not greater than %d", ts, last)
		}
		last = ts
	}
	if last != 1004 {
		t.Fatalf("last = %d, want 1004", last)
	}
}

func TestLocalSurvivesBackwardsWallClock(t *testing.T) {
	ctx := context.Background()
	wall := []int64{5000, 4000, 6000}
	i := 0
	c := NewLocalWith(func() time.Time { v := wall[i]; i++; return time.UnixMilli(v) })

	got := make([]int64, 0, 3)
	for range wall {
		ts, _ := c.Now(ctx, "k")
		got = append(got, ts)
	}
	if got[0] != 5000 || got[1] != 5001 || got[2] != 6000 {
		t.Fatalf("got %v", got)
	}
}

func TestLocalConcurrentCallersNeverCollide(t *testing.T) {
	ctx := context.Background()
	c := NewLocal()

	const n = 64
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, n*10)
		wg   sync.WaitGroup
	)
	for g := 0; g < n; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ts, _ := c.Now(ctx, "k")
				mu.Lock()
				if seen[ts] {
					t.Errorf("duplicate timestamp %d", ts)
				}
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestRedisSharesHighWaterMarkAcrossClients(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	a := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "users")
	b := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "users")
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	frozen := func() time.Time { return time.UnixMilli(2000) }
	a.now, b.now = frozen, frozen

	t1, err := a.Now(ctx, "id1")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := b.Now(ctx, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if t1 != 2000 || t2 != 2001 {
		t.Fatalf("got %d then %d, want 2000 then 2001", t1, t2)
	}

	other, _ := b.Now(ctx, "id2")
	if other != 2000 {
		t.Fatalf("independent key got %d, want 2000", other)
	}
	if v, _ := mr.Get("clock:users:id1"); v != "2001" {
		t.Fatalf("stored mark = %q", v)
	}
}

func TestRedisWithTTLSetsExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedisWithTTL(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "s", time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Now(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("clock:s:x"); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestFuncAdapter(t *testing.T) {
	var c Clock = Func(func(context.Context, string) (int64, error) { return 7, nil })
	if ts, _ := c.Now(context.Background(), "x"); ts != 7 {
		t.Fatalf("ts = %d", ts)
	}
}
