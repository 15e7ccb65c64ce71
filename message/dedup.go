package message

import "sync"

// DefaultDedupCapacity bounds the nonce cache when no capacity is given.
const DefaultDedupCapacity = 10000

// evictFraction is the share of oldest entries dropped when the cache is
// over capacity. The goal is bounding memory, not a precise replay window;
// the authoritative replay defense lives in the signed verdict path.
const evictFraction = 0.2

// Deduplicator tracks previously seen message nonces in a bounded,
// insertion-ordered set. It is safe for concurrent use.
type Deduplicator struct {
	seen      map[string]struct{}
	order     []string
	capacity  int
	evictions uint64
	mu        sync.Mutex
}

// NewDeduplicator creates a Deduplicator holding at most capacity nonces.
// A capacity <= 0 selects DefaultDedupCapacity.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Deduplicator{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// IsDuplicate reports whether the message's nonce has been seen before. The
// first delivery records the nonce and returns false; every later delivery
// of the same nonce returns true, and the caller must short-circuit with no
// side effects. Messages without a nonce are never treated as duplicates.
func (d *Deduplicator) IsDuplicate(m Message) bool {
	nonce := m.Meta().Nonce
	if nonce == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[nonce]; ok {
		return true
	}

	d.seen[nonce] = struct{}{}
	d.order = append(d.order, nonce)

	if len(d.seen) > d.capacity {
		d.evictOldest()
	}
	return false
}

// evictOldest drops the approximate oldest evictFraction of entries.
// Caller holds d.mu.
func (d *Deduplicator) evictOldest() {
	n := int(float64(d.capacity) * evictFraction)
	if n < 1 {
		n = 1
	}
	if n > len(d.order) {
		n = len(d.order)
	}
	for _, nonce := range d.order[:n] {
		delete(d.seen, nonce)
	}
	d.order = append([]string(nil), d.order[n:]...)
	d.evictions += uint64(n)
}

// DedupStats contains deduplicator statistics.
type DedupStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Evictions uint64 `json:"evictions"`
}

// Stats returns current deduplicator statistics.
func (d *Deduplicator) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DedupStats{
		Size:      len(d.seen),
		Capacity:  d.capacity,
		Evictions: d.evictions,
	}
}
