package idgen

import "testing"

func TestNextIsMonotonicAndUnique(t *testing.T) {
	t.Parallel()
	n, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]struct{}, 1000)
	var prev int64
	for i := 0; i < 1000; i++ {
		id := n.Next()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	t.Parallel()
	if _, err := New(5000); err == nil {
		t.Fatal("expected error for node id beyond 10 bits")
	}
}
