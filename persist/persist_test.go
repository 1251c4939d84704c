package persist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/unkn0wn-root/entcache/provider"
)

type memProvider struct {
	m      map[string][]byte
	reject bool
}

var _ provider.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte) (bool, error) {
	if p.reject {
		return false, nil
	}
	p.m[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error { delete(p.m, key); return nil }
func (p *memProvider) Close(_ context.Context) error           { return nil }

func TestEntityDocumentLayout(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	b := NewEntityFiles(NewFS(mem), ".", "value")

	err := b.WriteDocument(ctx, "entity", []Record{{ID: "id1", Payload: []byte("123"), Timestamp: 5}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := afero.ReadFile(mem, "entity.json")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id1":{"id":"id1","value":123,"timestamp":5}}`
	if string(got) != want {
		t.Fatalf("document = %s\nwant       %s", got, want)
	}
}

func TestEntityDocumentCustomValueFieldRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFS(afero.NewMemMapFs())
	b := NewEntityFiles(fs, "/data/cache", "source")

	in := []Record{
		{ID: "a", Payload: []byte(`1`), Timestamp: 10},
		{ID: "b", Payload: []byte(`{"here":2}`), Timestamp: 11},
		{ID: "c", Timestamp: 0},
	}
	if err := b.WriteDocument(ctx, "users", in); err != nil {
		t.Fatal(err)
	}
	raw, err := fs.ReadFile("/data/cache/users.json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"source":{"here":2}`) {
		t.Fatalf("custom value field missing from %s", raw)
	}

	out, ok, err := b.LoadDocument(ctx, "users")
	if err != nil || !ok {
		t.Fatalf("LoadDocument ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEntityLoadMissingEmptyAndDirectory(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	b := NewEntityFiles(NewFS(mem), "/root", "value")

	if _, ok, err := b.LoadDocument(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}

	_ = afero.WriteFile(mem, "/root/empty.json", []byte("  \n"), 0o644)
	if _, ok, err := b.LoadDocument(ctx, "empty"); err != nil || ok {
		t.Fatalf("empty: ok=%v err=%v", ok, err)
	}

	_ = mem.MkdirAll("/root/dir.json", 0o755)
	if _, ok, err := b.LoadDocument(ctx, "dir"); err != nil || ok {
		t.Fatalf("directory: ok=%v err=%v", ok, err)
	}
}

func TestEntityLoadMalformed(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	b := NewEntityFiles(NewFS(mem), "/root", "value")

	_ = afero.WriteFile(mem, "/root/bad.json", []byte(`{"id1":`), 0o644)
	if _, _, err := b.LoadDocument(ctx, "bad"); err == nil {
		t.Fatalf("expected parse error")
	}

	_ = afero.WriteFile(mem, "/root/ts.json", []byte(`{"id1":{"id":"id1","value":1,"timestamp":"soon"}}`), 0o644)
	if _, _, err := b.LoadDocument(ctx, "ts"); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestDecodeDocumentAcceptsFloatTimestamps(t *testing.T) {
	recs, err := DecodeDocument([]byte(`{"x":{"id":"x","value":"v","timestamp":1.7e12}}`), "value")
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].Timestamp != 1700000000000 {
		t.Fatalf("timestamp = %d", recs[0].Timestamp)
	}
}

func TestEncodeDocumentRejectsNonJSONPayload(t *testing.T) {
	if _, err := EncodeDocument([]Record{{ID: "x", Payload: []byte("not json")}}, "value"); err == nil {
		t.Fatalf("expected error for raw payload")
	}
}

func TestEntityValueFieldCannotShadowIDOrTimestamp(t *testing.T) {
	for _, field := range []string{"id", "timestamp"} {
		if _, err := Open(Entity, Config{FS: NewFS(afero.NewMemMapFs()), ValueField: field}); !errors.Is(err, ErrReservedField) {
			t.Errorf("Open with value field %q err=%v, want ErrReservedField", field, err)
		}
		if _, err := EncodeDocument([]Record{{ID: "x", Payload: []byte("1")}}, field); !errors.Is(err, ErrReservedField) {
			t.Errorf("EncodeDocument(%q) err=%v, want ErrReservedField", field, err)
		}
		if _, err := DecodeDocument([]byte(`{"x":{"id":"x","timestamp":1}}`), field); !errors.Is(err, ErrReservedField) {
			t.Errorf("DecodeDocument(%q) err=%v, want ErrReservedField", field, err)
		}
	}
	if _, err := Open(Entity, Config{FS: NewFS(afero.NewMemMapFs()), ValueField: "payload"}); err != nil {
		t.Fatalf("Open with value field payload: %v", err)
	}
}

func TestKeyFilesRecoverIdentityFromModTime(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	b := NewKeyFiles(NewFS(mem), "/blobs")

	mtime := time.UnixMilli(1700000000123)
	_ = afero.WriteFile(mem, "/blobs/id1", []byte("raw contents"), 0o644)
	if err := mem.Chtimes("/blobs/id1", mtime, mtime); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := b.LoadKey(ctx, "entity", "id1")
	if err != nil || !ok {
		t.Fatalf("LoadKey ok=%v err=%v", ok, err)
	}
	want := Record{ID: "id1", Payload: []byte("raw contents"), Timestamp: 1700000000123}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyFilesWriteRawPayloadAndDelete(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	b := NewKeyFiles(NewFS(mem), "./here")

	if err := b.WriteKey(ctx, "entity", Record{ID: "id1", Payload: []byte("123"), Timestamp: 99}); err != nil {
		t.Fatal(err)
	}
	got, err := afero.ReadFile(mem, "here/id1")
	if err != nil || string(got) != "123" {
		t.Fatalf("file = %q err=%v", got, err)
	}

	if err := b.DeleteKey(ctx, "entity", "id1"); err != nil {
		t.Fatal(err)
	}
	if err := b.DeleteKey(ctx, "entity", "id1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, err := b.LoadKey(ctx, "entity", "id1"); err != nil || ok {
		t.Fatalf("deleted key still loads: ok=%v err=%v", ok, err)
	}
}

func TestKeyFilesRejectPathTraversal(t *testing.T) {
	ctx := context.Background()
	b := NewKeyFiles(NewFS(afero.NewMemMapFs()), "/blobs")

	for _, id := range []string{"../escape", "a/b", ".."} {
		if err := b.WriteKey(ctx, "e", Record{ID: id, Payload: []byte("x")}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("WriteKey(%q) err=%v, want ErrInvalidID", id, err)
		}
		if _, _, err := b.LoadKey(ctx, "e", id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("LoadKey(%q) err=%v, want ErrInvalidID", id, err)
		}
		if err := b.CheckID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("CheckID(%q) err=%v, want ErrInvalidID", id, err)
		}
	}
	if err := b.CheckID("ok.txt"); err != nil {
		t.Errorf("CheckID(ok.txt) = %v", err)
	}
}

func TestKeyFilesEmptyFileIsAbsent(t *testing.T) {
	mem := afero.NewMemMapFs()
	_ = afero.WriteFile(mem, "/k/empty", nil, 0o644)
	if _, ok, err := NewKeyFiles(NewFS(mem), "/k").LoadKey(context.Background(), "e", "empty"); err != nil || ok {
		t.Fatalf("empty file: ok=%v err=%v", ok, err)
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	fs := NewFS(mem)
	for i := 0; i < 3; i++ {
		if err := fs.WriteFile("/d/users.json", []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := afero.ReadDir(mem, "/d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "users.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory holds %v", names)
	}
}

func TestProviderKeysKeepTimestamp(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	b := NewProviderKeys(mp)

	if err := b.WriteKey(ctx, "users", Record{ID: "u1", Payload: []byte(`"ada"`), Timestamp: 42}); err != nil {
		t.Fatal(err)
	}
	if _, ok := mp.m["entry:users:u1"]; !ok {
		t.Fatalf("expected namespaced provider key, have %v", mp.m)
	}
	rec, ok, err := b.LoadKey(ctx, "users", "u1")
	if err != nil || !ok || rec.Timestamp != 42 || string(rec.Payload) != `"ada"` {
		t.Fatalf("LoadKey = %+v ok=%v err=%v", rec, ok, err)
	}

	mp.reject = true
	if err := b.WriteKey(ctx, "users", Record{ID: "u2"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestProviderKeysCorruptRecord(t *testing.T) {
	mp := newMemProvider()
	mp.m["entry:users:u1"] = []byte("foreign bytes")
	if _, _, err := NewProviderKeys(mp).LoadKey(context.Background(), "users", "u1"); err == nil {
		t.Fatalf("expected corrupt record error")
	}
}

func TestProviderDocumentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewProviderDocuments(newMemProvider())

	if _, ok, err := b.LoadDocument(ctx, "users"); err != nil || ok {
		t.Fatalf("empty provider: ok=%v err=%v", ok, err)
	}
	in := []Record{{ID: "a", Payload: []byte("1"), Timestamp: 1}, {ID: "b", Payload: []byte("2"), Timestamp: 2}}
	if err := b.WriteDocument(ctx, "users", in); err != nil {
		t.Fatal(err)
	}
	out, ok, err := b.LoadDocument(ctx, "users")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestOpenByName(t *testing.T) {
	want := []string{Entity, Key, Provider, ProviderEntity}
	for _, n := range want {
		found := false
		for _, have := range Names() {
			if have == n {
				found = true
			}
		}
		if !found {
			t.Fatalf("backend %q not registered: %v", n, Names())
		}
	}

	b, err := Open(Entity, Config{FS: NewFS(afero.NewMemMapFs())})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(DocumentBackend); !ok {
		t.Fatalf("entity backend is not a DocumentBackend")
	}
	if got := b.(*EntityFiles).Path("e"); got != "e.json" {
		t.Fatalf("default root path = %q", got)
	}

	if _, err := Open(Provider, Config{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := Open("s3", Config{}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRegisterCustomBackend(t *testing.T) {
	Register("test-null", func(cfg Config) (Backend, error) { return NewProviderKeys(newMemProvider()), nil })
	if _, err := Open("test-null", Config{}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate Register should panic")
		}
	}()
	Register("test-null", func(cfg Config) (Backend, error) { return nil, nil })
}
