package persist

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/unkn0wn-root/entcache/internal/util"
)

// KeyFiles stores each id as <root>/<id> holding the raw payload, no
// envelope. The entry's timestamp is recovered from the file's modification
// time on load, so it reflects the last write to disk rather than the
// timestamp the writing process recorded. Entity names do not appear in the
// layout: entities sharing a root share ids.
type KeyFiles struct {
	fs   FS
	root string
}

var (
	_ KeyedBackend = (*KeyFiles)(nil)
	_ IDChecker    = (*KeyFiles)(nil)
	_ RawPayloads  = (*KeyFiles)(nil)
)

func NewKeyFiles(fs FS, root string) *KeyFiles {
	return &KeyFiles{fs: fs, root: root}
}

func (b *KeyFiles) Name() string { return Key }

func (b *KeyFiles) RawPayloads() bool { return true }

func (b *KeyFiles) CheckID(id string) error {
	_, err := b.Path(id)
	return err
}

// Path is where id's payload lives.
func (b *KeyFiles) Path(id string) (string, error) {
	if !util.IsPathElement(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(b.root, id), nil
}

// LoadKey treats a missing, non-regular or empty file as absent.
func (b *KeyFiles) LoadKey(_ context.Context, _ string, id string) (Record, bool, error) {
	path, err := b.Path(id)
	if err != nil {
		return Record{}, false, err
	}
	ok, err := b.fs.IsRegularFile(path)
	if err != nil || !ok {
		return Record{}, false, err
	}
	raw, err := b.fs.ReadFile(path)
	if err != nil {
		return Record{}, false, err
	}
	if len(raw) == 0 {
		return Record{}, false, nil
	}
	mt, err := b.fs.ModTime(path)
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: id, Payload: raw, Timestamp: mt.UnixMilli()}, true, nil
}

func (b *KeyFiles) WriteKey(_ context.Context, _ string, rec Record) error {
	path, err := b.Path(rec.ID)
	if err != nil {
		return err
	}
	return b.fs.WriteFile(path, rec.Payload)
}

func (b *KeyFiles) DeleteKey(_ context.Context, _ string, id string) error {
	path, err := b.Path(id)
	if err != nil {
		return err
	}
	return b.fs.Remove(path)
}
