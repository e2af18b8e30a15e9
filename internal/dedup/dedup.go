// Package dedup provides a TTL-based single-flight guard for costly triggers.
package dedup

import (
	"strings"
	"sync"
	"time"
)

// Deduplicator remembers when each key last fired. Entries are never swept:
// a stale entry simply compares as expired on its next lookup, and the key
// set is bounded by what one browsing session produces.
type Deduplicator struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// New creates an empty deduplicator using the wall clock.
func New() *Deduplicator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a deduplicator with an injected clock.
func NewWithClock(now func() time.Time) *Deduplicator {
	return &Deduplicator{
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// ShouldFire reports whether key has not fired within ttl. When it returns
// true the current time is recorded for key in the same critical section,
// so of two concurrent callers exactly one wins.
func (d *Deduplicator) ShouldFire(key string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.entries[key]; ok && now.Sub(last) < ttl {
		return false
	}
	d.entries[key] = now
	return true
}

// Recent reports whether key fired within ttl without recording anything.
// Pair it with Mark when the fire should only count once the work it
// guards has succeeded, and the caller already serializes that work.
func (d *Deduplicator) Recent(key string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.entries[key]
	return ok && d.now().Sub(last) < ttl
}

// Mark records now as the last fire of key.
func (d *Deduplicator) Mark(key string) {
	d.mu.Lock()
	d.entries[key] = d.now()
	d.mu.Unlock()
}

// LastFired returns when key last fired.
func (d *Deduplicator) LastFired(key string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.entries[key]
	return t, ok
}

// Len returns the number of keys ever recorded.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// NormalizeKey lower-cases and trims text for use as a key.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeURLKey also strips trailing punctuation picked up from prose.
func NormalizeURLKey(s string) string {
	return strings.TrimRight(NormalizeKey(s), TrailingPunctuation)
}

// TrailingPunctuation is stripped from the end of URLs found in prose.
const TrailingPunctuation = ".,;:!?)]}'\""
