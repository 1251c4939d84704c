package codec

// Bytes is the identity codec. With key-file persistence the file holds the
// value verbatim, which is what most blob-style entities want.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their UTF-8 bytes. No validation on Decode.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

// Raw returns the identity codec for string and []byte values. ok is false
// for any other V.
func Raw[V any]() (cd Codec[V], ok bool) {
	var zero V
	switch any(zero).(type) {
	case string:
		cd, ok = any(String{}).(Codec[V])
	case []byte:
		cd, ok = any(Bytes{}).(Codec[V])
	}
	return cd, ok
}
