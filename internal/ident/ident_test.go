package ident

import (
	"testing"
	"time"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("u1", "u2") != PairKey("u2", "u1") {
		t.Fatalf("PairKey should not depend on argument order")
	}
	if PairKey("u1", "u2") == PairKey("u1", "u3") {
		t.Fatalf("different pairs must have different keys")
	}

	a, b, ok := SplitPairKey(PairKey("zed", "amy"))
	if !ok || a != "amy" || b != "zed" {
		t.Fatalf("SplitPairKey = %q, %q, %v", a, b, ok)
	}
	if _, _, ok := SplitPairKey("broken"); ok {
		t.Fatalf("SplitPairKey accepted a key without separator")
	}
}

func TestNewULIDSortsInCreationOrder(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator(func() time.Time { return fixed })

	prev := ""
	for i := 0; i < 100; i++ {
		id, ts := gen.NewULID()
		if ts != fixed.UnixMilli() {
			t.Fatalf("timestamp = %d, want %d", ts, fixed.UnixMilli())
		}
		if id <= prev {
			t.Fatalf("id %s does not sort after %s", id, prev)
		}
		prev = id
	}
}

func TestNewUUIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id := NewUUID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate uuid %s", id)
		}
		seen[id] = struct{}{}
	}
}
