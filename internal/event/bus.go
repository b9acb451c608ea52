// Package event provides the application-wide outbound event bus. Components
// publish topic/payload pairs without knowing who listens; the host shell
// subscribes and forwards everything to the UI layer.
package event

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a single published event.
type Message struct {
	Topic   string    `json:"event"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"-"`
}

// Handler handles a published message.
type Handler func(Message)

// wildcard is the topic used by SubscribeAll.
const wildcard = "*"

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. It is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // topic -> subscriptions
}

func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for topic and returns the subscription id.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
	}
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub.id
}

// SubscribeAll registers a handler called for every published message.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[topic] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches msg to the topic handlers first and to the wildcard
// handlers second, each group in registration order. A panicking handler is
// logged and skipped.
func (b *Bus) Publish(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	b.mu.RLock()
	specific := append([]subscription(nil), b.subscriptions[msg.Topic]...)
	all := append([]subscription(nil), b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, msg)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, msg)
	}
}

// Emit publishes payload under topic.
func (b *Bus) Emit(topic string, payload any) {
	b.Publish(Message{Topic: topic, Payload: payload, Time: time.Now()})
}

func (b *Bus) safeCall(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"topic", msg.Topic,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(msg)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
