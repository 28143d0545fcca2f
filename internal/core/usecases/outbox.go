package usecases

import (
	"sync"

	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
)

// Outbox is a bounded per-session queue. When full, the oldest payload is
// dropped to make room, so a slow client loses history rather than
// stalling publishers.
type Outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	size   int
	closed bool
	notify chan struct{}
}

// NewOutbox creates an Outbox holding at most size payloads.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{size: size, notify: make(chan struct{}, 1)}
}

// Push enqueues a payload. It never blocks and returns false only once the
// outbox is closed.
func (o *Outbox) Push(payload []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.queue) >= o.size {
		o.queue[0] = nil
		o.queue = o.queue[1:]
		metrics.BroadcastDropped.Inc()
	}
	o.queue = append(o.queue, payload)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled whenever new payloads may be available.
func (o *Outbox) Ready() <-chan struct{} {
	return o.notify
}

// Drain removes and returns everything queued, oldest first.
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	return out
}

// Len returns the number of queued payloads.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close rejects further pushes and discards anything queued.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
}
