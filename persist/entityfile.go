package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
)

// EntityFiles stores each entity as <root>/<entity>.json:
//
//	{"id1":{"id":"id1","value":123,"timestamp":1700000000000}, ...}
//
// Payloads must be JSON; they are embedded verbatim under the value field.
type EntityFiles struct {
	fs    FS
	root  string
	field string
}

var (
	_ DocumentBackend = (*EntityFiles)(nil)
	_ JSONPayloads    = (*EntityFiles)(nil)
)

func NewEntityFiles(fs FS, root, valueField string) *EntityFiles {
	return &EntityFiles{fs: fs, root: root, field: valueField}
}

func (b *EntityFiles) Name() string { return Entity }

func (b *EntityFiles) JSONPayloads() bool { return true }

// Path is where the entity's document lives.
func (b *EntityFiles) Path(entity string) string {
	return filepath.Join(b.root, entity+".json")
}

func (b *EntityFiles) LoadDocument(_ context.Context, entity string) ([]Record, bool, error) {
	path := b.Path(entity)
	ok, err := b.fs.IsRegularFile(path)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := b.fs.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}
	recs, err := DecodeDocument(raw, b.field)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return recs, true, nil
}

func (b *EntityFiles) WriteDocument(_ context.Context, entity string, recs []Record) error {
	doc, err := EncodeDocument(recs, b.field)
	if err != nil {
		return err
	}
	return b.fs.WriteFile(b.Path(entity), doc)
}

// checkValueField rejects the names that entries already use for the id and
// timestamp.
func checkValueField(field string) error {
	if field == "id" || field == "timestamp" {
		return fmt.Errorf("%w: %q", ErrReservedField, field)
	}
	return nil
}

// EncodeDocument renders recs as an entity document. Entries keep the field
// order id, value, timestamp; ids are written in the order given.
func EncodeDocument(recs []Record, valueField string) ([]byte, error) {
	if err := checkValueField(valueField); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	field, err := json.Marshal(valueField)
	if err != nil {
		return nil, err
	}
	buf.WriteByte('{')
	for i, r := range recs {
		if i > 0 {
			buf.WriteByte(',')
		}
		id, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		payload := r.Payload
		if len(payload) == 0 {
			payload = []byte("null")
		} else if !json.Valid(payload) {
			return nil, fmt.Errorf("entcache: value for %q is not valid JSON", r.ID)
		}
		buf.Write(id)
		buf.WriteString(`:{"id":`)
		buf.Write(id)
		buf.WriteByte(',')
		buf.Write(field)
		buf.WriteByte(':')
		buf.Write(payload)
		buf.WriteString(`,"timestamp":`)
		buf.WriteString(strconv.FormatInt(r.Timestamp, 10))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeDocument parses an entity document. The map key is authoritative for
// the id; a missing value field yields a nil payload and a missing
// timestamp yields 0. Records come back sorted by id. "id" and "timestamp"
// cannot be used as the value field.
func DecodeDocument(raw []byte, valueField string) ([]Record, error) {
	if err := checkValueField(valueField); err != nil {
		return nil, err
	}
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(doc))
	for id, env := range doc {
		r := Record{ID: id}
		if p, ok := env[valueField]; ok && !bytes.Equal(p, []byte("null")) {
			r.Payload = []byte(p)
		}
		if ts, ok := env["timestamp"]; ok {
			n, err := parseTimestamp(ts)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", id, err)
			}
			r.Timestamp = n
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func parseTimestamp(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("bad timestamp %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f < 0 {
		return 0, fmt.Errorf("bad timestamp %s", raw)
	}
	return int64(f), nil
}
