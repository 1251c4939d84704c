package entcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/unkn0wn-root/entcache/persist"
)

func TestOpenReturnsFirstStore(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	first := openT(t, r, "users", Options[int]{Defaults: map[string]int{"a": 1}})
	again := openT(t, r, "users", Options[int]{Defaults: map[string]int{"b": 2}})

	if first != again {
		t.Fatalf("second Open built a new store")
	}
	if _, ok, _ := again.Get(ctx, "b"); ok {
		t.Fatalf("second caller's defaults applied without purge")
	}
}

func TestOpenTypeMismatch(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	openT(t, r, "users", Options[int]{})
	if _, err := Open(ctx, r, "users", Options[string]{}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Open with other type err=%v", err)
	}
	if _, err := Open(ctx, r, "", Options[int]{}); !errors.Is(err, ErrEmptyEntity) {
		t.Fatalf("Open empty entity err=%v", err)
	}
}

func TestPurgeReseedsFromNewDefaults(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	old := openT(t, r, "users", Options[int]{Defaults: map[string]int{"a": 1}})
	_ = old.Set(ctx, "b", 2)

	fresh := openT(t, r, "users", Options[int]{Defaults: map[string]int{"c": 3}, Purge: true})
	want := []Entry[int]{{ID: "c", Value: 3}}
	if diff := cmp.Diff(want, fresh.GetAll(ctx)); diff != "" {
		t.Fatalf("after purge (-want +got):\n%s", diff)
	}
	if err := old.Set(ctx, "d", 4); !errors.Is(err, ErrClosed) {
		t.Fatalf("purged handle Set err=%v, want ErrClosed", err)
	}
	if got := openT(t, r, "users", Options[int]{}); got != fresh {
		t.Fatalf("Open after purge did not return the fresh store")
	}
}

func TestPurgeDrainsWritesBeforeRehydrating(t *testing.T) {
	ctx := context.Background()
	fs := persist.NewFS(afero.NewMemMapFs())
	r := NewRegistry(RegistryOptions{})
	opts := Options[int]{Persistence: persist.Entity, PersistURL: "/data", FS: fs}

	st := openT(t, r, "e", opts)
	for i := 0; i < 50; i++ {
		_ = st.Set(ctx, "n", i)
	}
	opts.Purge = true
	st = openT(t, r, "e", opts)
	if v, ok, _ := st.Get(ctx, "n"); !ok || v != 49 {
		t.Fatalf("rehydrated n = %d ok=%v, want 49", v, ok)
	}
}

func TestRegistryPurgeAndEntities(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	a := openT(t, r, "a", Options[int]{})
	openT(t, r, "b", Options[string]{})

	if diff := cmp.Diff([]string{"a", "b"}, r.Entities()); diff != "" {
		t.Fatalf("Entities (-want +got):\n%s", diff)
	}
	if err := r.Purge(ctx, "a"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if err := r.Purge(ctx, "missing"); err != nil {
		t.Fatalf("Purge missing: %v", err)
	}
	if diff := cmp.Diff([]string{"b"}, r.Entities()); diff != "" {
		t.Fatalf("Entities after purge (-want +got):\n%s", diff)
	}
	if err := a.Set(ctx, "x", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("purged store Set err=%v", err)
	}
}

func TestRegistryCloseClosesEverything(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	stores := []Store[int]{
		openT(t, r, "a", Options[int]{}),
		openT(t, r, "b", Options[int]{}),
		openT(t, r, "c", Options[int]{}),
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, st := range stores {
		if err := st.Set(ctx, "x", 1); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s still open: %v", st.Entity(), err)
		}
	}
	if got := r.Entities(); len(got) != 0 {
		t.Fatalf("Entities after Close = %v", got)
	}
}

type stubCloser struct {
	entity string
	delay  time.Duration
	err    error
	got    chan error
}

func (c *stubCloser) Entity() string { return c.entity }

func (c *stubCloser) Close(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	time.Sleep(c.delay)
	err := ctx.Err()
	c.got <- err
	return err
}

func TestRegistryCloseDoesNotCancelSlowStores(t *testing.T) {
	boom := errors.New("boom")
	slow := &stubCloser{entity: "slow", delay: 50 * time.Millisecond, got: make(chan error, 1)}
	r := NewRegistry(RegistryOptions{})
	r.slot("bad").st = &stubCloser{entity: "bad", err: boom}
	r.slot("slow").st = slow

	if err := r.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Close err=%v, want boom", err)
	}
	if err := <-slow.got; err != nil {
		t.Fatalf("slow store saw ctx err %v", err)
	}
}

func TestConcurrentOpenSameEntity(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})

	const n = 32
	got := make([]Store[int], n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			st, err := Open(ctx, r, "shared", Options[int]{})
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			got[i] = st
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("caller %d got a different store", i)
		}
	}
}

func TestLazyDefersOpen(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	l := NewLazy(ctx, r, "users", Options[int]{Defaults: map[string]int{"a": 1}}, true)

	if got := r.Entities(); len(got) != 0 {
		t.Fatalf("lazy handle opened early: %v", got)
	}
	if v, ok, err := l.Get(ctx, "a"); err != nil || !ok || v != 1 {
		t.Fatalf("Get = %d ok=%v err=%v", v, ok, err)
	}
	if diff := cmp.Diff([]string{"users"}, r.Entities()); diff != "" {
		t.Fatalf("Entities (-want +got):\n%s", diff)
	}
}

func TestEagerHandleSurfacesOpenError(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	l := NewLazy(ctx, r, "users", Options[int]{Persistence: "nope"}, false)

	if err := l.Set(ctx, "a", 1); !errors.Is(err, persist.ErrUnknownBackend) {
		t.Fatalf("Set err=%v, want ErrUnknownBackend", err)
	}
	if _, err := l.GetAll(ctx); !errors.Is(err, persist.ErrUnknownBackend) {
		t.Fatalf("GetAll err=%v", err)
	}
}
