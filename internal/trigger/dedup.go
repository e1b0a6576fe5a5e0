package trigger

import (
	"sync"
	"time"
)

// Dedup is the in-memory, process-local webhook delivery-id dedup map
// (spec I5, §9 "Global in-memory dedup"). Pruned lazily on each access
// rather than by a background sweep.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewDedup returns a Dedup with the given TTL. Spec I5 requires ttl to be
// at least 10 minutes.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{ttl: ttl, seen: make(map[string]time.Time)}
}

// CheckAndMark reports whether deliveryID was already seen within the TTL
// window as of now. If not, it records deliveryID as seen at now. Also
// prunes any entries older than ttl.
func (d *Dedup) CheckAndMark(deliveryID string, now time.Time) (alreadySeen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, seenAt := range d.seen {
		if now.Sub(seenAt) > d.ttl {
			delete(d.seen, id)
		}
	}

	if seenAt, ok := d.seen[deliveryID]; ok && now.Sub(seenAt) <= d.ttl {
		return true
	}
	d.seen[deliveryID] = now
	return false
}
