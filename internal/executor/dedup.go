package executor

import (
	"sync"
	"time"
)

// Dedup suppresses a second submission of the same ladder slot within a
// time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // slot key -> last submission
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate if it was
// marked within ttl. A non-positive ttl disables suppression.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether key was marked within the TTL window.
func (d *Dedup) Seen(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[key]
	return ok && d.now().Sub(last) < d.ttl
}

// Mark records a submission of key.
func (d *Dedup) Mark(key string) {
	if d.ttl <= 0 {
		return
	}
	d.mu.Lock()
	d.seen[key] = d.now()
	d.mu.Unlock()
}

// Forget drops key, for example once its order has left the book.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call it periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
