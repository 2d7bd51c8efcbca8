package registry

import (
	"testing"

	"github.com/gurnec/Undo-FFG/internal/fingerprint"
)

func digest(b byte) fingerprint.Digest {
	var d fingerprint.Digest
	d[0] = b
	return d
}

func TestInsertAndContains(t *testing.T) {
	r := New()
	a, b := digest(1), digest(2)

	if r.Contains(0, a) {
		t.Error("empty registry should not contain anything")
	}

	r.Insert(0, a)
	r.Insert(0, b)
	r.Insert(0, a) // no-op

	if !r.Contains(0, a) || !r.Contains(0, b) {
		t.Error("inserted fingerprints missing")
	}
	if r.Len(0) != 2 {
		t.Errorf("len = %d, want 2 (re-insert must not duplicate)", r.Len(0))
	}
	if r.Contains(1, a) {
		t.Error("slot 1 should be independent of slot 0")
	}
}

func TestEvictOldest(t *testing.T) {
	r := New()
	a, b, c := digest(1), digest(2), digest(3)
	r.Insert(0, a)
	r.Insert(0, b)
	r.Insert(0, c)

	got, ok := r.EvictOldest(0)
	if !ok || got != a {
		t.Errorf("evicted %v, want first-inserted %v", got, a)
	}
	got, ok = r.EvictOldest(0)
	if !ok || got != b {
		t.Errorf("evicted %v, want %v", got, b)
	}
	if r.Len(0) != 1 {
		t.Errorf("len = %d, want 1", r.Len(0))
	}

	r.EvictOldest(0)
	if _, ok := r.EvictOldest(0); ok {
		t.Error("eviction from empty slot should report not ok")
	}
}

func TestSeed(t *testing.T) {
	r := New()
	seeded := []fingerprint.Digest{digest(1), digest(2)}
	r.Seed(0, seeded)

	// Mutating the caller's slice must not affect the registry.
	seeded[0] = digest(9)

	got, ok := r.EvictOldest(0)
	if !ok || got != digest(1) {
		t.Errorf("evicted %v, want seeded oldest %v", got, digest(1))
	}
}

func TestRemove(t *testing.T) {
	r := New()
	a, b, c := digest(1), digest(2), digest(3)
	r.Insert(0, a)
	r.Insert(0, b)
	r.Insert(0, c)

	r.Remove(0, b)
	if r.Contains(0, b) {
		t.Error("removed fingerprint still present")
	}
	if r.Len(0) != 2 {
		t.Errorf("len = %d, want 2", r.Len(0))
	}

	// Order of the survivors is preserved.
	got, _ := r.EvictOldest(0)
	if got != a {
		t.Errorf("oldest after remove = %v, want %v", got, a)
	}

	r.Remove(0, digest(9)) // absent, no-op
}

func TestCurrent(t *testing.T) {
	r := New()
	a := digest(1)

	if _, ok := r.Current(0); ok {
		t.Error("fresh registry should have no current fingerprint")
	}

	r.SetCurrent(0, a)
	got, ok := r.Current(0)
	if !ok || got != a {
		t.Errorf("current = %v, %v, want %v", got, ok, a)
	}

	r.ClearCurrent(0)
	if _, ok := r.Current(0); ok {
		t.Error("current should be cleared")
	}
}

func TestSlots(t *testing.T) {
	r := New()
	r.Insert(0, digest(1))
	r.Insert(3, digest(2))
	r.Seed(5, nil)

	slots := r.Slots()
	if len(slots) != 2 {
		t.Errorf("slots = %v, want the two slots holding fingerprints", slots)
	}
}
