package runtime

import "sync"

// dispatcher delivers notifications one at a time in the order they were
// enqueued. Whoever drains first delivers everything queued, including
// what observers enqueue while being notified, so an observer may call
// back into its source without deadlocking.
type dispatcher struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

// enqueue may be called while holding the source's own lock.
func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

// drain must be called without holding the source's lock.
func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func (d *dispatcher) post(fn func()) {
	d.enqueue(fn)
	d.drain()
}
