// Package codec converts entity values to and from the bytes that land in
// key files, provider records and sync messages.
//
// Whole-entity JSON documents always embed values with JSON; the codec
// configured on a store only shapes per-id payloads.
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
