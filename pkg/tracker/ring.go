package tracker

import "sync"

// ring is a fixed-capacity sample buffer; writes overwrite the oldest entry
// on overflow.
type ring struct {
	mu       sync.Mutex
	buf      []Sample
	next     int
	count    int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{
		buf:      make([]Sample, capacity),
		capacity: capacity,
	}
}

func (r *ring) add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = s
	r.next = (r.next + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// recent returns up to limit samples, newest last. limit <= 0 returns all
// retained samples.
func (r *ring) recent(limit int) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the most recent write.
		idx := (r.next - n + i + r.capacity*2) % r.capacity
		out[i] = r.buf[idx]
	}
	return out
}

func (r *ring) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
