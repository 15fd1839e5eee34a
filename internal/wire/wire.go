// Package wire implements the RPC framing and message encoding: a
// 4-byte big-endian length prefix followed by a msgpack-encoded
// envelope carrying an xid, a method, and either a request or reply
// body.
//
// The envelope itself is encoded with github.com/hashicorp/go-msgpack,
// the same wire codec github.com/hashicorp/raft uses for its log
// entries - a struct-tag driven encoder needs no code generation step,
// unlike a protobuf schema.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	mpcodec "github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/kvthrong/throng/internal/types"
)

// MaxFrameLength is the largest payload a frame may carry. A declared
// length beyond this is a protocol error.
const MaxFrameLength = 64 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame's declared or actual
// length exceeds MaxFrameLength.
var ErrFrameTooLarge = errors.New("throng/wire: frame exceeds maximum length")

// Method identifies the RPC operation an envelope carries.
type Method uint8

const (
	MethodHello Method = iota
	MethodGet
)

func (m Method) String() string {
	switch m {
	case MethodHello:
		return "HELLO"
	case MethodGet:
		return "GET"
	default:
		return "UNKNOWN"
	}
}

// Status is the outcome of a request, carried on every reply.
type Status uint8

const (
	StatusOK Status = iota
	StatusUnsupported
	StatusProtocolError
	StatusServerError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusProtocolError:
		return "PROTOCOL_ERROR"
	case StatusServerError:
		return "SERVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the outer message record of the wire protocol. Exactly
// one of IsReply's two interpretations applies: a request envelope has
// Body set to the method's request struct (msgpack-encoded); a reply
// envelope has StatusCode/StatusMessage set, and Body set to the
// method's reply struct only when StatusCode is OK.
type Envelope struct {
	Xid           uint64
	Method        Method
	IsReply       bool
	StatusCode    Status
	StatusMessage string
	Body          []byte
}

var msgpackHandle = &mpcodec.MsgpackHandle{}

// Marshal encodes v (a request/reply body struct) to msgpack bytes.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := mpcodec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := mpcodec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	return dec.Decode(v)
}

// WriteFrame writes env to w as a length-prefixed msgpack frame.
func WriteFrame(w io.Writer, env *Envelope) error {
	payload, err := Marshal(env)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameLength {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed msgpack frame from r.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var env Envelope
	if err := Unmarshal(buf, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// --- method bodies ---

// NodeIDWire is the wire form of a types.NodeID.
type NodeIDWire struct {
	ID []uint32
}

// ToNodeID converts back to types.NodeID.
func (n NodeIDWire) ToNodeID() types.NodeID { return types.NodeID(n.ID) }

// NodeIDToWire converts a types.NodeID to its wire form.
func NodeIDToWire(id types.NodeID) NodeIDWire { return NodeIDWire{ID: []uint32(id)} }

// NeighborhoodWire is the wire form of a neighborhood (prefix + masters).
type NeighborhoodWire struct {
	Prefix  NodeIDWire
	Masters []NodeIDWire
}

// HelloRequest is the hello method's request body.
type HelloRequest struct {
	ID            NodeIDWire
	Neighborhoods []NeighborhoodWire
}

// HelloReply is rep_hello: empty on success.
type HelloReply struct{}

// GetRequest is the get method's request body.
type GetRequest struct {
	Store string
	Key   []byte
}

// ClockEntryWire is the wire form of a types.ClockEntry.
type ClockEntryWire struct {
	Node    NodeIDWire
	Counter uint64
}

// ClockWire is the wire form of a types.VectorClock.
type ClockWire struct {
	TimestampUnixNano int64
	Entries           []ClockEntryWire
}

// ClockToWire converts a types.VectorClock to its wire form.
func ClockToWire(c types.VectorClock) ClockWire {
	entries := c.Entries()
	out := make([]ClockEntryWire, len(entries))
	for i, e := range entries {
		out[i] = ClockEntryWire{Node: NodeIDToWire(e.Node), Counter: e.Counter}
	}
	return ClockWire{TimestampUnixNano: c.Timestamp().UnixNano(), Entries: out}
}

// ToVectorClock converts a ClockWire back to a types.VectorClock.
func (c ClockWire) ToVectorClock() types.VectorClock {
	entries := make([]types.ClockEntry, len(c.Entries))
	for i, e := range c.Entries {
		entries[i] = types.ClockEntry{Node: e.Node.ToNodeID(), Counter: e.Counter}
	}
	ts := time.Unix(0, c.TimestampUnixNano).UTC()
	return types.NewVectorClock(ts, entries)
}

// VersionedWire is the wire form of a types.RawVersioned.
type VersionedWire struct {
	Tombstone bool
	Value     []byte
	Clock     ClockWire
}

// VersionedToWire converts a raw versioned value to its wire form.
func VersionedToWire(v types.RawVersioned) VersionedWire {
	if !v.HasValue() {
		return VersionedWire{Tombstone: true, Clock: ClockToWire(v.Clock)}
	}
	return VersionedWire{Value: v.Value, Clock: ClockToWire(v.Clock)}
}

// ToVersioned converts a VersionedWire back to a raw versioned value.
func (v VersionedWire) ToVersioned() types.RawVersioned {
	if v.Tombstone {
		return types.RawVersioned{Clock: v.Clock.ToVectorClock()}
	}
	return types.RawVersioned{Value: v.Value, Clock: v.Clock.ToVectorClock()}
}

// GetReply is the get method's reply body.
type GetReply struct {
	Versioneds []VersionedWire
}
