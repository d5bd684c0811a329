package filter

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

// Verdict is the outcome of running a packet through a chain.
type Verdict struct {
	Passed bool
	// Filter names the entry that decided the verdict: the rejecting
	// filter on a drop, the last enabled filter on a pass.
	Filter string
	Reason string
}

// Chain is an ordered set of filter entries. Apply runs enabled entries
// in descending priority; the first non-match short-circuits. Safe for
// concurrent Apply with serialized mutation.
type Chain struct {
	mu      sync.RWMutex
	entries []*Entry

	applied atomic.Uint64
	passed  atomic.Uint64
	dropped atomic.Uint64
}

// NewChain returns an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add compiles and inserts an entry, rejecting duplicate names.
func (c *Chain) Add(e *Entry) error {
	if e == nil || e.Name == "" {
		return core.Errorf(core.CodeInvalidArgument, "filter entry requires a name")
	}
	if err := e.compile(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.entries {
		if existing.Name == e.Name {
			return core.Errorf(core.CodeInvalidArgument, "filter %q already in chain", e.Name)
		}
	}
	c.entries = append(c.entries, e)
	c.sortLocked()
	return nil
}

// Remove drops an entry by name.
func (c *Chain) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return nil
		}
	}
	return core.Errorf(core.CodeInvalidArgument, "filter %q not in chain", name)
}

// SetEnabled toggles an entry without recompiling it.
func (c *Chain) SetEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name == name {
			e.Enabled = enabled
			return nil
		}
	}
	return core.Errorf(core.CodeInvalidArgument, "filter %q not in chain", name)
}

// SetPriority reorders an entry.
func (c *Chain) SetPriority(name string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name == name {
			e.Priority = priority
			c.sortLocked()
			return nil
		}
	}
	return core.Errorf(core.CodeInvalidArgument, "filter %q not in chain", name)
}

// sortLocked orders by descending priority, name as tiebreak so the
// order is deterministic.
func (c *Chain) sortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].Priority != c.entries[j].Priority {
			return c.entries[i].Priority > c.entries[j].Priority
		}
		return c.entries[i].Name < c.entries[j].Name
	})
}

// Entries returns the chain's entries in evaluation order.
func (c *Chain) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry looks up an entry by name.
func (c *Chain) Entry(name string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Apply runs the packet through enabled filters in priority order. A
// chain with no enabled filters passes everything.
func (c *Chain) Apply(p *packet.Packet) Verdict {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	c.applied.Add(1)
	last := ""
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		start := time.Now()
		ok := e.match(p)
		e.stats.nanos.Add(time.Since(start).Nanoseconds())
		e.stats.processed.Add(1)
		if !ok {
			e.stats.dropped.Add(1)
			c.dropped.Add(1)
			return Verdict{Filter: e.Name, Reason: e.Type.String() + " filter did not match"}
		}
		e.stats.passed.Add(1)
		last = e.Name
	}
	c.passed.Add(1)
	return Verdict{Passed: true, Filter: last}
}

// ChainStats aggregates chain-level counters.
type ChainStats struct {
	Applied uint64
	Passed  uint64
	Dropped uint64
}

// Stats snapshots the aggregate counters.
func (c *Chain) Stats() ChainStats {
	return ChainStats{
		Applied: c.applied.Load(),
		Passed:  c.passed.Load(),
		Dropped: c.dropped.Load(),
	}
}

// ResetStats zeroes aggregate and per-entry counters.
func (c *Chain) ResetStats() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.applied.Store(0)
	c.passed.Store(0)
	c.dropped.Store(0)
	for _, e := range c.entries {
		e.stats.processed.Store(0)
		e.stats.passed.Store(0)
		e.stats.dropped.Store(0)
		e.stats.nanos.Store(0)
	}
}
