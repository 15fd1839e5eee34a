package throng

import (
	"testing"
	"time"
)

func TestVectorClockIncrement(t *testing.T) {
	now := time.Now()
	n1, n2 := NewNodeID(1), NewNodeID(2)

	vc := VectorClock{}
	vc = vc.Increment(n1, now)
	vc = vc.Increment(n2, now)
	vc = vc.Increment(n2, now)

	entries := vc.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Node.Equal(n1) || entries[0].Counter != 1 {
		t.Fatalf("expected (n1,1) first, got %+v", entries[0])
	}
	if !entries[1].Node.Equal(n2) || entries[1].Counter != 2 {
		t.Fatalf("expected (n2,2) second, got %+v", entries[1])
	}
}

func TestVectorClockCompareEmptyIsBeforeNonEmpty(t *testing.T) {
	now := time.Now()
	empty := VectorClock{}
	nonEmpty := empty.Increment(NewNodeID(1), now)

	if empty.Compare(nonEmpty) != Before {
		t.Fatalf("expected empty clock to be Before a strictly greater one")
	}
	if nonEmpty.Compare(empty) != After {
		t.Fatalf("expected non-empty clock to be After the empty one")
	}
}

func TestVectorClockCompareConcurrent(t *testing.T) {
	now := time.Now()
	base := VectorClock{}
	a := base.Increment(NewNodeID(1), now)
	b := base.Increment(NewNodeID(2), now)

	if a.Compare(b) != Concurrent {
		t.Fatalf("expected disjoint single-node clocks to be Concurrent")
	}
	if b.Compare(a) != Concurrent {
		t.Fatalf("expected Concurrent to be symmetric")
	}
}

func TestVectorClockCompareEqual(t *testing.T) {
	now := time.Now()
	a := VectorClock{}.Increment(NewNodeID(1), now).Increment(NewNodeID(2), now)
	b := VectorClock{}.Increment(NewNodeID(1), now).Increment(NewNodeID(2), now)

	if a.Compare(b) != Equal {
		t.Fatalf("expected identical clocks to compare Equal")
	}
}

func TestVectorClockMergeCommutative(t *testing.T) {
	now := time.Now()
	a := VectorClock{}.Increment(NewNodeID(1), now)
	b := VectorClock{}.Increment(NewNodeID(2), now)

	ab := a.Merge(b, now)
	ba := b.Merge(a, now)

	if !ab.IsEqual(ba) {
		t.Fatalf("expected merge to be commutative (ignoring timestamp)")
	}
}

func TestVectorClockMergeIdempotent(t *testing.T) {
	now := time.Now()
	a := VectorClock{}.Increment(NewNodeID(1), now).Increment(NewNodeID(2), now)
	merged := a.Merge(a, now)

	if !merged.IsEqual(a) {
		t.Fatalf("expected v.merge(v) == v (ignoring timestamp)")
	}
}

func TestVectorClockMergeTakesPairwiseMax(t *testing.T) {
	now := time.Now()
	n1 := NewNodeID(1)
	a := VectorClock{}.Increment(n1, now).Increment(n1, now) // counter 2
	b := VectorClock{}.Increment(n1, now)                    // counter 1

	merged := a.Merge(b, now)
	entries := merged.Entries()
	if len(entries) != 1 || entries[0].Counter != 2 {
		t.Fatalf("expected merged counter 2, got %+v", entries)
	}
}

func TestVectorClockCompareDominatingEntries(t *testing.T) {
	now := time.Now()
	n1, n2, n3 := NewNodeID(1, 2, 3), NewNodeID(1, 3, 2), NewNodeID(2, 1, 4)

	a := NewVectorClock(now, []ClockEntry{{Node: n1, Counter: 3}, {Node: n2, Counter: 1}, {Node: n3, Counter: 1}})
	b := NewVectorClock(now, []ClockEntry{{Node: n1, Counter: 2}, {Node: n2, Counter: 1}, {Node: n3, Counter: 1}})

	if a.Compare(b) != After {
		t.Fatalf("expected After, got %v", a.Compare(b))
	}
	if b.Compare(a) != Before {
		t.Fatalf("expected Before, got %v", b.Compare(a))
	}
}

func TestVectorClockMergeDisjointAndOverlappingNodes(t *testing.T) {
	now := time.Now()
	n1, n2, n3 := NewNodeID(1, 2, 3), NewNodeID(1, 3, 2), NewNodeID(2, 1, 4)
	n4, n5 := NewNodeID(2, 2, 1), NewNodeID(3, 1, 1)

	a := NewVectorClock(now, []ClockEntry{
		{Node: n1, Counter: 3}, {Node: n2, Counter: 2}, {Node: n3, Counter: 1}, {Node: n5, Counter: 1},
	})
	b := NewVectorClock(now, []ClockEntry{
		{Node: n1, Counter: 1}, {Node: n2, Counter: 2}, {Node: n4, Counter: 1},
	})

	merged := a.Merge(b, now)
	want := []ClockEntry{
		{Node: n1, Counter: 3}, {Node: n2, Counter: 2}, {Node: n3, Counter: 1},
		{Node: n4, Counter: 1}, {Node: n5, Counter: 1},
	}
	entries := merged.Entries()
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(entries), merged)
	}
	for i, e := range entries {
		if !e.Node.Equal(want[i].Node) || e.Counter != want[i].Counter {
			t.Fatalf("entry %d: expected (%s,%d), got (%s,%d)", i, want[i].Node, want[i].Counter, e.Node, e.Counter)
		}
	}
}

func TestVectorClockStringFormat(t *testing.T) {
	now := time.Now()
	vc := VectorClock{}.Increment(NewNodeID(1), now)
	want := "[(" + NewNodeID(1).String() + ",1)]"
	if got := vc.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
