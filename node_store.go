package throng

import (
	"bytes"

	mpcodec "github.com/hashicorp/go-msgpack/v2/codec"
)

// NodeRecord is the value type of the well-known node store: a
// directory entry mapping a node-id to where it listens and whether
// it may hold master responsibility for a neighborhood.
type NodeRecord struct {
	Host           string
	Port           int
	MasterEligible bool
}

// NeighborhoodRecord is the value type of the well-known neighborhood
// store: a neighborhood's membership snapshot, keyed by its prefix.
type NeighborhoodRecord struct {
	Prefix  NodeID
	Members []NodeID
	Masters []NodeID
}

var recordMsgpackHandle = &mpcodec.MsgpackHandle{}

// NodeIDSerializer encodes a NodeID as its store key, using the same
// msgpack codec the RPC layer uses for wire values so that a single
// durable engine can host both user stores and the two system stores
// without a second encoding scheme.
type NodeIDSerializer struct{}

func (NodeIDSerializer) Serialize(v NodeID) ([]byte, error) {
	return marshalRecord([]uint32(v))
}

func (NodeIDSerializer) Deserialize(data []byte) (NodeID, error) {
	var parts []uint32
	if err := unmarshalRecord(data, &parts); err != nil {
		return nil, err
	}
	return NodeID(parts), nil
}

// NodeRecordSerializer is the Serializer[NodeRecord] used by the
// node store.
type NodeRecordSerializer struct{}

func (NodeRecordSerializer) Serialize(v NodeRecord) ([]byte, error) { return marshalRecord(v) }

func (NodeRecordSerializer) Deserialize(data []byte) (NodeRecord, error) {
	var v NodeRecord
	err := unmarshalRecord(data, &v)
	return v, err
}

// NeighborhoodRecordSerializer is the Serializer[NeighborhoodRecord]
// used by the neighborhood store.
type NeighborhoodRecordSerializer struct{}

func (NeighborhoodRecordSerializer) Serialize(v NeighborhoodRecord) ([]byte, error) {
	return marshalRecord(v)
}

func (NeighborhoodRecordSerializer) Deserialize(data []byte) (NeighborhoodRecord, error) {
	var v NeighborhoodRecord
	err := unmarshalRecord(data, &v)
	return v, err
}

func marshalRecord(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := mpcodec.NewEncoder(&buf, recordMsgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, &SerializationError{Message: "encode system store record", Cause: err}
	}
	return buf.Bytes(), nil
}

func unmarshalRecord(data []byte, v interface{}) error {
	dec := mpcodec.NewDecoder(bytes.NewReader(data), recordMsgpackHandle)
	if err := dec.Decode(v); err != nil {
		return &SerializationError{Message: "decode system store record", Cause: err}
	}
	return nil
}
