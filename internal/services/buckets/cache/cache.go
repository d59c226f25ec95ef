// Package cache holds the process-wide view of bucket roots.
//
// Entries are keyed by (scope, root) and are either positive, carrying the
// root's stored value and expiration, or negative, asserting the root is
// confirmed absent. The cache has no TTL of its own: entries change only
// when a mutation overwrites them or Reset clears everything.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
)

// Key identifies one cached root.
type Key struct {
	Scope domain.Scope
	Root  string
}

// Entry is a cached root: either a stored value or a confirmed absence.
type Entry struct {
	// Value is the stored root text. Empty for negative entries.
	Value string
	// ExpiresAt mirrors the row's expiration. Zero means none.
	ExpiresAt time.Time
	// Absent marks a negative entry.
	Absent bool
}

// Positive returns an entry for a present root.
func Positive(value string, expiresAt *time.Time) Entry {
	entry := Entry{Value: value}
	if expiresAt != nil {
		entry.ExpiresAt = expiresAt.UTC()
	}
	return entry
}

// Negative returns an entry asserting the root does not exist.
func Negative() Entry {
	return Entry{Absent: true}
}

// Expired reports whether a positive entry's row has expired at now.
func (e Entry) Expired(now time.Time) bool {
	if e.Absent || e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// Expiration returns the row expiration, or nil when the row never expires.
func (e Entry) Expiration() *time.Time {
	if e.Absent || e.ExpiresAt.IsZero() {
		return nil
	}
	expiresAt := e.ExpiresAt
	return &expiresAt
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits          uint64
	NegativeHits  uint64
	Misses        uint64
	Fills         uint64
	Invalidations uint64
	Resets        uint64
	Entries       int
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry

	hits          atomic.Uint64
	negativeHits  atomic.Uint64
	misses        atomic.Uint64
	fills         atomic.Uint64
	invalidations atomic.Uint64
	resets        atomic.Uint64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]Entry)}
}

// Lookup returns the cached entry for key.
func (c *Cache) Lookup(key Key) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	switch {
	case !ok:
		c.misses.Add(1)
	case entry.Absent:
		c.negativeHits.Add(1)
	default:
		c.hits.Add(1)
	}
	return entry, ok
}

// Fill records a read-through result unless an entry already exists, and
// returns the entry now cached. A concurrent mutation that raced the load
// keeps its newer entry.
func (c *Cache) Fill(key Key, entry Entry) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, false
	}
	c.entries[key] = entry
	c.fills.Add(1)
	return entry, true
}

// Put overwrites the entry for key after a mutation of that root.
func (c *Cache) Put(key Key, entry Entry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// Forget drops the entry for key so the next lookup reloads it.
func (c *Cache) Forget(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.invalidations.Add(1)
	}
}

// Reset drops every entry. Persisted rows are not touched.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[Key]Entry)
	c.mu.Unlock()
	c.resets.Add(1)
}

// Len returns the number of cached roots, negative entries included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		NegativeHits:  c.negativeHits.Load(),
		Misses:        c.misses.Load(),
		Fills:         c.fills.Load(),
		Invalidations: c.invalidations.Load(),
		Resets:        c.resets.Load(),
		Entries:       c.Len(),
	}
}
