package runner

import "sync"

// Collator merges the unordered completion stream back into plan
// order. It is an arena of slots keyed by sequence index: completions
// drop into their slot as they arrive, so no sort is needed and a
// partial snapshot is just the filled slots in order.
type Collator struct {
	mu     sync.Mutex
	slots  []*Outcome
	filled int
}

// NewCollator creates a collator for n sequence indices.
func NewCollator(n int) *Collator {
	return &Collator{slots: make([]*Outcome, n)}
}

// Put records the outcome in its slot. The first write to a slot
// wins; Put reports whether the outcome was recorded, so a duplicate
// publication is visible to the caller instead of corrupting the
// result.
func (c *Collator) Put(o Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Seq < 0 || o.Seq >= len(c.slots) || c.slots[o.Seq] != nil {
		return false
	}
	copied := o
	c.slots[o.Seq] = &copied
	c.filled++
	return true
}

// Filled returns how many slots hold a terminal outcome.
func (c *Collator) Filled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled
}

// Complete reports whether every slot is filled.
func (c *Collator) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled == len(c.slots)
}

// Snapshot returns the outcomes recorded so far, in sequence order,
// skipping pending slots. Safe to call while completions are still
// arriving; the result must be treated as partial until Complete.
func (c *Collator) Snapshot() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, 0, c.filled)
	for _, slot := range c.slots {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return out
}
