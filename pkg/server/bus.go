package server

import (
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber outbound queue size.
const DefaultSubscriberBuffer = 32

// Subscription is one consumer of a session's event feed. Events arrive on C
// in publish order. If the consumer falls behind until its buffer fills, the
// bus drops it: Dropped is closed, then C is closed. The consumer is expected
// to reconnect and resync from a snapshot.
type Subscription struct {
	ID string
	C  chan *Event

	dropped   chan struct{}
	closeOnce sync.Once
}

// Dropped is closed when the bus sheds this subscriber for falling behind.
func (s *Subscription) Dropped() <-chan struct{} { return s.dropped }

func (s *Subscription) close(shed bool) {
	s.closeOnce.Do(func() {
		if shed {
			close(s.dropped)
		}
		close(s.C)
	})
}

// Bus fans a session's events out to its subscribers in publish order. One
// bus exists per session. Publish is called from the owning actor's
// goroutine for every event except gameCreated, which the dispatcher
// publishes right after the session is registered; the bus lock assigns
// sequence numbers in publish order. A slow subscriber never blocks the session: the send is non-blocking
// and overflow sheds the subscriber, not the producer.
type Bus struct {
	code string
	log  slog.Logger

	mu     sync.Mutex
	seq    uint64
	subs   map[string]*Subscription
	buffer int
}

// NewBus creates a bus for the given session code.
func NewBus(code string, buffer int, log slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		code:   code,
		log:    log,
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new consumer and returns its subscription.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		C:       make(chan *Event, b.buffer),
		dropped: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer. Safe to call after the bus dropped it.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close(false)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish assigns the next sequence number and delivers the event to every
// subscriber. Subscribers whose buffer is full are shed.
func (b *Bus) Publish(evType EventType, data interface{}, t time.Time) *Event {
	b.mu.Lock()
	b.seq++
	event := &Event{
		SessionCode: b.code,
		Seq:         b.seq,
		Type:        evType,
		Data:        data,
		T:           t,
	}

	var shed []*Subscription
	for id, sub := range b.subs {
		select {
		case sub.C <- event:
		default:
			b.log.Warnf("subscriber %s on %s too slow, dropping", id, b.code)
			delete(b.subs, id)
			shed = append(shed, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range shed {
		sub.close(true)
	}
	return event
}

// Close drops every subscriber, used when the session is reaped.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close(false)
	}
}
