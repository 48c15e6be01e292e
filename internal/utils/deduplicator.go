package utils

import (
	"sync"
	"time"
)

// Deduplicator remembers submission keys for a window so a double-click or
// a retried request does not write the same count twice.
type Deduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewDeduplicator creates a guard; a zero window defaults to 5 minutes
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// IsDuplicate reports whether key was already seen within the window and
// records it otherwise. Empty keys are never duplicates.
func (d *Deduplicator) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.window {
		return true
	}
	d.seen[key] = now

	// Cleanup old entries if map gets too big
	if len(d.seen) > 10000 {
		for k, v := range d.seen {
			if now.Sub(v) > 2*d.window {
				delete(d.seen, k)
			}
		}
	}
	return false
}

// Forget drops key so a failed submission can be retried immediately
func (d *Deduplicator) Forget(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}
