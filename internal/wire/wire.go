// Package wire frames entries stored in byte providers. Key and entity files
// on disk do not use it: those formats are fixed (raw payload, JSON document).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version      byte = 1
	kindRecord   byte = 1
	kindDocument byte = 2
)

var (
	ErrCorrupt = errors.New("entcache: corrupt record")
	magic4     = [...]byte{'E', 'N', 'T', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record: magic(4) | ver(1) | kind(1=record) | ts(i64 be) | vlen(u32 be) | payload(vlen)
func EncodeRecord(ts int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(ts))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRecord returns a payload that aliases b.
func DecodeRecord(b []byte) (ts int64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return 0, nil, ErrCorrupt
	}
	off := 6

	ts = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return ts, b[off : off+vlen], nil
}

// DocItem is one entry of a whole-entity document.
type DocItem struct {
	ID        string
	Timestamp int64
	Payload   []byte
}

// Document:
//
//	magic(4) | ver(1) | kind(2=document) | n(u32 be)
//	idLen(u16 be) | id(idLen) | ts(i64 be) | vlen(u32 be) | payload(vlen) * n
func EncodeDocument(items []DocItem) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, it := range items {
		total += 2 + len(it.ID) + 8 + 4 + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindDocument)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		if l := len(it.ID); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("entcache: invalid id length %d in document", l)
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.ID)))
		buf.Write(u2[:])
		buf.WriteString(it.ID)

		binary.BigEndian.PutUint64(u8[:], uint64(it.Timestamp))
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeDocument(b []byte) ([]DocItem, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindDocument {
		return nil, ErrCorrupt
	}
	off := 6

	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// each item needs at least 2+1+8+4 bytes
	if n < 0 || n > (len(b)-off)/15 {
		return nil, ErrCorrupt
	}

	items := make([]DocItem, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		idLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if idLen <= 0 || idLen > len(b)-off {
			return nil, ErrCorrupt
		}
		id := string(b[off : off+idLen])
		off += idLen

		if off+8 > len(b) {
			return nil, ErrCorrupt
		}
		ts := int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8

		if off+4 > len(b) {
			return nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		items = append(items, DocItem{ID: id, Timestamp: ts, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}
