package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/models"
)

// subBufSize is the per-subscriber event buffer depth.
const subBufSize = 16

// Bus fans out engine events to subscribers. Delivery is at-most-once:
// publishing never blocks, and a subscriber whose buffer is full is
// evicted rather than waited on.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
	logger zerolog.Logger
}

// Subscriber is one registered event consumer.
type Subscriber struct {
	ch chan models.Event
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscriber is evicted or unsubscribed.
func (s *Subscriber) Events() <-chan models.Event {
	return s.ch
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		logger: log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new consumer and returns its handle.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan models.Event, subBufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes a consumer and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(s)
}

// Publish delivers ev to every subscriber best-effort. A subscriber that
// cannot keep up is dropped silently.
func (b *Bus) Publish(ev models.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			// Buffer full, evict the subscriber.
			b.logger.Warn().Str("event", string(ev.Kind)).Msg("Dropping slow subscriber")
			b.remove(s)
		}
	}
}

// Close evicts every subscriber and rejects future subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for s := range b.subs {
		b.remove(s)
	}
}

// Count returns the number of registered subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// remove deletes s under the held lock.
func (b *Bus) remove(s *Subscriber) {
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
