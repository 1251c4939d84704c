package persist

import (
	"context"
	"fmt"
	"sort"

	"github.com/unkn0wn-root/entcache/internal/util"
	"github.com/unkn0wn-root/entcache/internal/wire"
	"github.com/unkn0wn-root/entcache/provider"
)

// ProviderKeys keeps one framed record per id in a byte provider. Unlike
// key files, the recorded timestamp survives the round trip.
type ProviderKeys struct {
	p provider.Provider
}

var _ KeyedBackend = (*ProviderKeys)(nil)

func NewProviderKeys(p provider.Provider) *ProviderKeys { return &ProviderKeys{p: p} }

func (b *ProviderKeys) Name() string { return Provider }

func (b *ProviderKeys) LoadKey(ctx context.Context, entity, id string) (Record, bool, error) {
	raw, ok, err := b.p.Get(ctx, util.EntryKey(entity, id))
	if err != nil || !ok {
		return Record{}, false, err
	}
	ts, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: id, Payload: append([]byte(nil), payload...), Timestamp: ts}, true, nil
}

func (b *ProviderKeys) WriteKey(ctx context.Context, entity string, rec Record) error {
	k := util.EntryKey(entity, rec.ID)
	ok, err := b.p.Set(ctx, k, wire.EncodeRecord(rec.Timestamp, rec.Payload))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRejected, k)
	}
	return nil
}

func (b *ProviderKeys) DeleteKey(ctx context.Context, entity, id string) error {
	return b.p.Del(ctx, util.EntryKey(entity, id))
}

// ProviderDocuments keeps the whole entity under a single provider key.
type ProviderDocuments struct {
	p provider.Provider
}

var _ DocumentBackend = (*ProviderDocuments)(nil)

func NewProviderDocuments(p provider.Provider) *ProviderDocuments {
	return &ProviderDocuments{p: p}
}

func (b *ProviderDocuments) Name() string { return ProviderEntity }

func (b *ProviderDocuments) LoadDocument(ctx context.Context, entity string) ([]Record, bool, error) {
	raw, ok, err := b.p.Get(ctx, util.DocumentKey(entity))
	if err != nil || !ok {
		return nil, false, err
	}
	items, err := wire.DecodeDocument(raw)
	if err != nil {
		return nil, false, err
	}
	recs := make([]Record, 0, len(items))
	for _, it := range items {
		recs = append(recs, Record{
			ID:        it.ID,
			Payload:   append([]byte(nil), it.Payload...),
			Timestamp: it.Timestamp,
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, true, nil
}

func (b *ProviderDocuments) WriteDocument(ctx context.Context, entity string, recs []Record) error {
	items := make([]wire.DocItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, wire.DocItem{ID: r.ID, Timestamp: r.Timestamp, Payload: r.Payload})
	}
	doc, err := wire.EncodeDocument(items)
	if err != nil {
		return err
	}
	k := util.DocumentKey(entity)
	ok, err := b.p.Set(ctx, k, doc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRejected, k)
	}
	return nil
}
