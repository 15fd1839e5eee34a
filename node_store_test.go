package throng

import "testing"

func TestNodeIDSerializerRoundTrip(t *testing.T) {
	id := NewNodeID(1, 2, 3)
	s := NodeIDSerializer{}

	data, err := s.Serialize(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(id) {
		t.Fatalf("expected %v, got %v", id, got)
	}
}

func TestNodeRecordSerializerRoundTrip(t *testing.T) {
	rec := NodeRecord{Host: "10.0.0.1", Port: 7000, MasterEligible: true}
	s := NodeRecordSerializer{}

	data, err := s.Serialize(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
}

func TestNeighborhoodRecordSerializerRoundTrip(t *testing.T) {
	rec := NeighborhoodRecord{
		Prefix:  NewNodeID(1),
		Members: []NodeID{NewNodeID(1, 1), NewNodeID(1, 2)},
		Masters: []NodeID{NewNodeID(1, 1)},
	}
	s := NeighborhoodRecordSerializer{}

	data, err := s.Serialize(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Prefix.Equal(rec.Prefix) {
		t.Fatalf("expected prefix %v, got %v", rec.Prefix, got.Prefix)
	}
	if len(got.Members) != 2 || len(got.Masters) != 1 {
		t.Fatalf("unexpected record shape: %+v", got)
	}
}
