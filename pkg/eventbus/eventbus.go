// Package eventbus fans out run events to subscribers (the CLI's live
// progress view, a future web UI) without ever letting a slow subscriber
// stall the pipeline. Grounded on the teacher's
// pkg/events.ConnectionManager: channel-keyed subscriber sets guarded by
// their own lock, snapshot-then-release before sending, and a dedicated
// catchup path for late joiners (here: LastSnapshot instead of a Postgres
// catchup query, since there is no database in this run's persistence
// contract — see DESIGN.md).
package eventbus

import (
	"log/slog"
	"sync"
)

// queueDepth bounds each subscriber's buffered channel. Once full, new
// events for that subscriber are dropped rather than blocking the
// publisher — the resolved policy for the run's Open Question on bus
// overflow (see SPEC_FULL.md): a slow consumer loses freshness, never the
// other way around.
const queueDepth = 256

// Subscription is a single subscriber's inbound event channel.
type Subscription struct {
	id   uint64
	ch   chan any
	bus  *Bus
	once sync.Once
}

// Events returns the channel to range over for delivered events. Closed
// when the Subscription is closed.
func (s *Subscription) Events() <-chan any { return s.ch }

// Close unregisters the subscription and releases its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus is a bounded, non-blocking, topic-keyed publish/subscribe hub plus a
// last-known-value cache so a subscriber that joins mid-run can catch up
// without replaying the full history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	lastByTopic map[string]any
	dropped     uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
		lastByTopic: make(map[string]any),
	}
}

// Subscribe registers a new subscriber and immediately replays the last
// known event for every topic published so far, so a late joiner (e.g. a
// CLI attached after the run started) sees current state without racing the
// publisher.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan any, queueDepth), bus: b}
	b.subscribers[sub.id] = sub

	catchup := make([]any, 0, len(b.lastByTopic))
	for _, v := range b.lastByTopic {
		catchup = append(catchup, v)
	}
	b.mu.Unlock()

	for _, v := range catchup {
		select {
		case sub.ch <- v:
		default:
		}
	}
	return sub
}

// Publish fans event out to every current subscriber under topic and
// records it as the topic's last-known value for future catch-up. Never
// blocks: a subscriber whose buffer is full has event dropped for it
// (drop-newest) and the drop is counted, not logged per-event, to avoid a
// slow consumer also flooding the log.
func (b *Bus) Publish(topic string, event any) {
	b.mu.Lock()
	b.lastByTopic[topic] = event
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			b.mu.Lock()
			b.dropped++
			d := b.dropped
			b.mu.Unlock()
			if d%100 == 1 {
				slog.Warn("eventbus: dropping events for a slow subscriber", "topic", topic, "total_dropped", d)
			}
		}
	}
}

// LastSnapshot returns the last event published under topic, if any.
func (b *Bus) LastSnapshot(topic string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.lastByTopic[topic]
	return v, ok
}

// SubscriberCount reports the number of active subscribers (test/metrics use).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports the cumulative number of events dropped across all
// subscribers due to a full buffer.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, s.id)
}
