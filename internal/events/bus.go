// Package events is the post-commit domain event fan-out: the money engine
// and webhook pipeline announce what happened, observers (read model, SSE
// streams, downstream consumers) react. Events are advisory; no state
// machine ever depends on one arriving.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one domain event envelope.
type Event struct {
	ID      string            `json:"id"`
	Topic   string            `json:"topic"`
	Time    time.Time         `json:"time"`
	Payload map[string]string `json:"payload"`
}

// NewEvent builds an envelope with a fresh id.
func NewEvent(topic string, payload map[string]string) *Event {
	return &Event{
		ID:      "evt_" + uuid.NewString(),
		Topic:   topic,
		Time:    time.Now().UTC(),
		Payload: payload,
	}
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) { return json.Marshal(e) }

// Bus is an in-process pub/sub bus. Publish never blocks: a slow subscriber
// loses events rather than stalling the money path.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event // topic → channels
	allSubs     []chan *Event
	logger      *log.Logger
	bufferSize  int
}

// NewBus creates an in-memory bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events on the given topics, or all
// events when no topic is named.
func (b *Bus) Subscribe(topics ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(topics) == 0 {
		b.allSubs = append(b.allSubs, ch)
		return ch
	}
	for _, t := range topics {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// Unsubscribe removes a channel from all topics and closes it.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		b.subscribers[t] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *Event, ch chan *Event) []chan *Event {
	out := subs[:0]
	for _, c := range subs {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}

// Publish fans an event out to subscribers. Satisfies money.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]string) {
	b.Emit(NewEvent(topic, payload))
}

// Emit delivers a prebuilt envelope.
func (b *Bus) Emit(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[e.Topic] {
		select {
		case ch <- e:
		default:
			b.logger.Printf("⚠️ subscriber buffer full, dropping %s on %s", e.ID, e.Topic)
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- e:
		default:
			b.logger.Printf("⚠️ subscriber buffer full, dropping %s on %s", e.ID, e.Topic)
		}
	}
}
