package throng

import "testing"

func TestNodeIDEqual(t *testing.T) {
	a := NewNodeID(1, 2, 3)
	b := NewNodeID(1, 2, 3)
	c := NewNodeID(1, 2, 4)
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
	if a.Equal(c) {
		t.Fatalf("expected %v to not equal %v", a, c)
	}
}

func TestNodeIDCompareOrdersByComponent(t *testing.T) {
	if NewNodeID(1).Compare(NewNodeID(2)) >= 0 {
		t.Fatalf("expected (1) < (2)")
	}
	if NewNodeID(1, 2).Compare(NewNodeID(1)) <= 0 {
		t.Fatalf("expected (1,2) > (1) (longer prefix-equal id sorts after)")
	}
	if NewNodeID(1, 2, 3).Compare(NewNodeID(1, 2, 3)) != 0 {
		t.Fatalf("expected equal ids to compare 0")
	}
}

func TestNodeIDHasPrefix(t *testing.T) {
	id := NewNodeID(1, 2, 3)
	if !id.HasPrefix(NewNodeID(1, 2)) {
		t.Fatalf("expected (1,2,3) to have prefix (1,2)")
	}
	if id.HasPrefix(NewNodeID(1, 3)) {
		t.Fatalf("expected (1,2,3) to not have prefix (1,3)")
	}
	if !id.HasPrefix(NewNodeID()) {
		t.Fatalf("expected every id to have the empty prefix")
	}
}

func TestNodeIDPrefix(t *testing.T) {
	id := NewNodeID(1, 2, 3)
	p := id.Prefix(2)
	if !p.Equal(NewNodeID(1, 2)) {
		t.Fatalf("expected prefix(2) == (1,2), got %v", p)
	}
}

func TestNodeIDKeyUsableAsMapKey(t *testing.T) {
	m := map[string]bool{}
	m[NewNodeID(1, 2).Key()] = true
	if !m[NewNodeID(1, 2).Key()] {
		t.Fatalf("expected equal NodeIDs to produce equal map keys")
	}
	if m[NewNodeID(1, 3).Key()] {
		t.Fatalf("expected different NodeIDs to produce different map keys")
	}
}

func TestNodeIDString(t *testing.T) {
	got := NewNodeID(1, 2, 3).String()
	want := "(1,2,3)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
