// Package events implements the subscribe/filter/fan-out broadcaster: every
// subscriber gets its own bounded buffer, delivery is at-most-once and
// best-effort, and one subscriber's failure never touches another's.
package events

import (
	"log"
	"sync"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// DefaultBufferSize is the per-subscriber bounded FIFO capacity.
const DefaultBufferSize = 500

// subscriber holds one client's interest and bounded inbox. Sends to Ch are
// always non-blocking; ringbuffer-style eviction happens under the
// broadcaster's lock, not in a goroutine per subscriber, so publish order
// is preserved without an unbounded number of live goroutines.
type subscriber struct {
	mu          sync.Mutex
	clientID    string
	workOrderID string
	filter      *workorder.EventFilter
	buf         []Event
	capacity    int
	dropped     int64
	ch          chan Event
	closed      bool
}

// Broadcaster fans out events to subscribers filtered by work order id and
// an optional event-type/verbosity filter.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber // keyed by clientID
	bufferSize  int
}

// NewBroadcaster constructs a Broadcaster with the given per-subscriber
// buffer capacity (DefaultBufferSize if <= 0).
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe records clientID's interest in workOrderID and immediately
// delivers a subscription_confirmed event. Re-subscribing the same client
// replaces its prior subscription and buffer.
func (b *Broadcaster) Subscribe(clientID, workOrderID string, filter *workorder.EventFilter) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		clientID:    clientID,
		workOrderID: workOrderID,
		filter:      filter,
		capacity:    b.bufferSize,
		ch:          make(chan Event, b.bufferSize),
	}
	b.subscribers[clientID] = sub

	confirmed := Event{Type: TypeSubscriptionConfirmed, WorkOrderID: workOrderID}
	sub.deliver(confirmed)
	return sub.ch
}

// Unsubscribe removes clientID's subscription. A dropped/already-gone
// subscriber is treated the same as an explicit unsubscribe: silently
// removed, matching the weak-reference ownership the data model specifies.
func (b *Broadcaster) Unsubscribe(clientID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[clientID]
	delete(b.subscribers, clientID)
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// matches reports whether an event should be delivered to this subscriber.
func (s *subscriber) matches(e Event) bool {
	if e.WorkOrderID != s.workOrderID {
		return false
	}
	if s.filter == nil || len(s.filter.Types) == 0 {
		return true
	}
	for _, t := range s.filter.Types {
		if Type(t) == e.Type {
			return true
		}
	}
	return false
}

// deliver is best-effort and non-blocking: on a full channel the oldest
// buffered event is evicted to make room, incrementing dropped. A panic
// recovered here (e.g. a send on a channel closed concurrently by
// Unsubscribe) is logged and swallowed so one subscriber's teardown can
// never take down the publisher loop for the rest.
func (s *subscriber) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: delivery to subscriber %s recovered from panic: %v", s.clientID, r)
		}
	}()

	select {
	case s.ch <- e:
	default:
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		select {
		case s.ch <- e:
		default:
			s.dropped++
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Dropped returns how many events have been evicted from clientID's buffer.
func (b *Broadcaster) Dropped(clientID string) int64 {
	b.mu.RLock()
	sub, ok := b.subscribers[clientID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropped
}

// Publish fans e out to every matching subscriber. Handler-level failures
// (full buffers, panics) are isolated per-subscriber and never stop
// delivery to the rest.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.matches(e) {
			sub.deliver(e)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
