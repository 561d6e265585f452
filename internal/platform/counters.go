package platform

import (
	"maps"
	"sync"
)

// maxNotes bounds the diagnostic notes kept per run.
const maxNotes = 50

// Counters collects debug counters for one sync run. Safe for concurrent use;
// a nil *Counters discards everything.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
	notes  []string
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

// Inc adds one to name.
func (c *Counters) Inc(name string) {
	c.Add(name, 1)
}

// Add adds n to name.
func (c *Counters) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counts[name] += n
	c.mu.Unlock()
}

// Get returns the current value of name.
func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// Note records a short diagnostic message. Only the first few are kept.
func (c *Counters) Note(msg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.notes) < maxNotes {
		c.notes = append(c.notes, msg)
	} else {
		c.counts["notes_dropped"]++
	}
}

// Notes returns the recorded notes.
func (c *Counters) Notes() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notes...)
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	if c == nil {
		return map[string]int64{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}
