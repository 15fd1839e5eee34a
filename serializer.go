package throng

// Serializer is a total function mapping a user-defined type to and
// from its binary representation. Implementations must be
// deterministic: the same logical value always encodes to the same
// bytes, since the framing layer and storage engines compare and
// persist raw bytes.
//
// Serialization of user types is an injected collaborator; this
// package only defines the contract plus the trivial []byte/string
// mappers.
type Serializer[V any] interface {
	Serialize(v V) ([]byte, error)
	Deserialize(data []byte) (V, error)
}

// ByteSerializer is the identity serializer for raw []byte payloads.
type ByteSerializer struct{}

// Serialize returns v unchanged.
func (ByteSerializer) Serialize(v []byte) ([]byte, error) { return v, nil }

// Deserialize returns data unchanged.
func (ByteSerializer) Deserialize(data []byte) ([]byte, error) { return data, nil }

// StringSerializer maps strings to their UTF-8 bytes and back.
type StringSerializer struct{}

// Serialize returns the UTF-8 bytes of v.
func (StringSerializer) Serialize(v string) ([]byte, error) { return []byte(v), nil }

// Deserialize returns data interpreted as a UTF-8 string.
func (StringSerializer) Deserialize(data []byte) (string, error) { return string(data), nil }
