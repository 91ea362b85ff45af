package mcp

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
)

// EventType names a connection event.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventDisconnected         EventType = "disconnected"
	EventToolResult           EventType = "tool-result"
	EventStatusUpdate         EventType = "status-update"
	EventError                EventType = "error"
	EventMaxReconnectsReached EventType = "max-reconnect-attempts-reached"
)

// Event is delivered to subscribers. Envelope is set for events that
// originate from an inbound frame.
type Event struct {
	Type      EventType
	ClientID  string
	Code      int
	ToolName  string
	Envelope  *Envelope
	Err       error
	Timestamp time.Time
}

// Subscription receives events over a buffered channel until Unsubscribe
// is called or the client is closed.
type Subscription struct {
	id    uint64
	ch    chan Event
	types map[EventType]struct{}
	bus   *eventBus
	once  sync.Once
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe stops delivery and closes the channel. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s.id) })
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// eventBus fans events out without ever blocking the publisher.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool

	logger  *zap.Logger
	metrics *metrics.Collector
}

func newEventBus(buffer int, logger *zap.Logger, m *metrics.Collector) *eventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &eventBus{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

func (b *eventBus) subscribe(filter ...EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ch:    make(chan Event, b.buffer),
		types: make(map[EventType]struct{}, len(filter)),
		bus:   b,
	}
	for _, t := range filter {
		sub.types[t] = struct{}{}
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

func (b *eventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *eventBus) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.String("event", string(ev.Type)),
				zap.Uint64("subscription", sub.id))
			b.metrics.RecordEventDropped(string(ev.Type))
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
