package registry

import (
	"github.com/gurnec/Undo-FFG/internal/fingerprint"
)

// Registry tracks, per save slot, which fingerprints are preserved in
// the snapshot store (oldest first) and which one matches the live
// directory right now. It is confined to the engine's event loop and
// is deliberately not safe for concurrent use.
type Registry struct {
	slots   map[int][]fingerprint.Digest
	current map[int]fingerprint.Digest
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		slots:   make(map[int][]fingerprint.Digest),
		current: make(map[int]fingerprint.Digest),
	}
}

// Seed replaces the slot's preserved list, oldest first. Used at
// startup from the store listing.
func (r *Registry) Seed(slot int, fps []fingerprint.Digest) {
	r.slots[slot] = append([]fingerprint.Digest(nil), fps...)
}

// Contains reports whether the fingerprint is preserved for the slot.
func (r *Registry) Contains(slot int, fp fingerprint.Digest) bool {
	for _, existing := range r.slots[slot] {
		if existing == fp {
			return true
		}
	}
	return false
}

// Insert appends the fingerprint as the newest entry for the slot.
// Inserting a fingerprint that is already present is a no-op.
func (r *Registry) Insert(slot int, fp fingerprint.Digest) {
	if r.Contains(slot, fp) {
		return
	}
	r.slots[slot] = append(r.slots[slot], fp)
}

// EvictOldest removes and returns the slot's oldest fingerprint.
func (r *Registry) EvictOldest(slot int) (fingerprint.Digest, bool) {
	fps := r.slots[slot]
	if len(fps) == 0 {
		return fingerprint.Empty, false
	}
	oldest := fps[0]
	r.slots[slot] = fps[1:]
	return oldest, true
}

// Remove deletes the fingerprint from the slot wherever it sits.
func (r *Registry) Remove(slot int, fp fingerprint.Digest) {
	fps := r.slots[slot]
	for i, existing := range fps {
		if existing == fp {
			r.slots[slot] = append(fps[:i], fps[i+1:]...)
			return
		}
	}
}

// Len returns how many fingerprints the slot preserves.
func (r *Registry) Len(slot int) int {
	return len(r.slots[slot])
}

// Fingerprints returns the slot's preserved fingerprints, oldest first.
func (r *Registry) Fingerprints(slot int) []fingerprint.Digest {
	return append([]fingerprint.Digest(nil), r.slots[slot]...)
}

// Slots returns every slot with at least one preserved fingerprint.
func (r *Registry) Slots() []int {
	slots := make([]int, 0, len(r.slots))
	for slot, fps := range r.slots {
		if len(fps) > 0 {
			slots = append(slots, slot)
		}
	}
	return slots
}

// SetCurrent records the fingerprint the slot's live directory holds.
func (r *Registry) SetCurrent(slot int, fp fingerprint.Digest) {
	r.current[slot] = fp
}

// ClearCurrent forgets the slot's live fingerprint, used when the
// directory becomes empty.
func (r *Registry) ClearCurrent(slot int) {
	delete(r.current, slot)
}

// Current returns the slot's live fingerprint, if known.
func (r *Registry) Current(slot int) (fingerprint.Digest, bool) {
	fp, ok := r.current[slot]
	return fp, ok
}
