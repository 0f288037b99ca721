package telemetry

import (
	"sync"

	"github.com/tetherview/scadabridge/pkg/observability"
)

// subscriberQueueSize bounds the per-subscriber send queue.
const subscriberQueueSize = 32

// Hub fan-outs samples to any number of subscribers. Broadcast never blocks
// on a slow subscriber: when a queue is full the oldest unsent sample is
// dropped to make room, so every subscriber sees samples in chronological
// order with gaps rather than delaying the collector.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Sample]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Sample]struct{})}
}

// Broadcast delivers a sample to all subscribers.
func (h *Hub) Broadcast(s Sample) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		// Queue full: shed the oldest queued sample, then retry once. The
		// inner default covers a consumer that drained concurrently.
		select {
		case <-ch:
			observability.DroppedSamples.Inc()
		default:
		}
		select {
		case ch <- s:
		default:
			observability.DroppedSamples.Inc()
		}
	}
}

// Subscribe returns a channel of future samples and a cancel func that
// releases the slot. The channel is closed on cancel or hub shutdown.
func (h *Hub) Subscribe() (<-chan Sample, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Sample)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Sample, subscriberQueueSize)
	h.subscribers[ch] = struct{}{}
	observability.ActiveSubscribers.Set(float64(len(h.subscribers)))

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
			observability.ActiveSubscribers.Set(float64(len(h.subscribers)))
		}
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unsubscribes all listeners and prevents future broadcasts.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
	observability.ActiveSubscribers.Set(0)
}
