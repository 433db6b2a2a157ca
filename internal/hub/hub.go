// Package hub fans watch events out to any number of live subscribers.
// Delivery is best-effort per subscriber: a slow receiver loses events but
// never delays the watch or the other receivers.
package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// subscriberBuffer bounds how far a receiver may lag before events drop.
const subscriberBuffer = 256

// Subscription is one attached receiver.
type Subscription struct {
	id uint64
	ch chan domain.Event
}

// Events is the receive side of the subscription. The channel closes when
// the subscription is cancelled through Hub.Unsubscribe or Hub.Close.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Hub is the in-memory event broadcaster.
type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	dropped atomic.Int64
}

func New(log *zap.Logger) *Hub {
	return &Hub{log: log, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a receiver. Prelude events are queued before the
// subscription goes live, so a late joiner sees its catch-up snapshot ahead
// of any concurrent publish. Holding the lock across the queueing keeps live
// events from interleaving with the prelude.
func (h *Hub) Subscribe(prelude ...domain.Event) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, ch: make(chan domain.Event, subscriberBuffer)}
	for _, ev := range prelude {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe detaches the receiver and closes its channel. Calling it twice
// is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Publish fans the event out to every subscriber. A full buffer drops the
// event for that subscriber only.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
			h.log.Warn("event_dropped",
				zap.String("type", string(ev.Type)),
				zap.Uint64("subscriber", sub.id))
		}
	}
}

// Dropped reports how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers reports the number of attached receivers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
