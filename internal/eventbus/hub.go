// Package eventbus provides the in-process publish/subscribe hub that
// carries grid and meter updates to the websocket and MQTT bridges.
package eventbus

import (
	"time"

	"github.com/kilianp07/gridx/core/broadcast"
)

// AnyScope subscribes to global and user-scoped messages alike.
const AnyScope = "*"

// Message is one published update.
type Message struct {
	Topic   string    `json:"event"`
	Scope   string    `json:"scope,omitempty"`
	Payload any       `json:"data"`
	Time    time.Time `json:"-"`
}

// Global reports whether m targets every subscriber.
func (m Message) Global() bool { return m.Scope == broadcast.Global }

// Hub routes messages by topic and scope. It implements
// broadcast.Publisher.
type Hub struct {
	bus *TypedBus[Message]
	now func() time.Time
}

// NewHub returns a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	return &Hub{bus: NewTypedWithBuffer[Message](buffer), now: time.Now}
}

// Publish delivers payload to matching subscribers without blocking.
func (h *Hub) Publish(topic string, payload any, scope string) {
	h.bus.Publish(Message{Topic: topic, Scope: scope, Payload: payload, Time: h.now()})
}

// Subscribe returns messages of topic and scope. An empty topic matches
// every topic; AnyScope matches every scope.
func (h *Hub) Subscribe(topic, scope string) <-chan Message {
	return h.bus.SubscribeFunc(func(m Message) bool {
		if topic != "" && m.Topic != topic {
			return false
		}
		return scope == AnyScope || m.Scope == scope
	})
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub <-chan Message) { h.bus.Unsubscribe(sub) }

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int { return h.bus.Subscribers() }

// Dropped returns how many deliveries were lost to slow subscribers.
func (h *Hub) Dropped() uint64 { return h.bus.Dropped() }

// Close closes every subscription.
func (h *Hub) Close() { h.bus.Close() }

var _ broadcast.Publisher = (*Hub)(nil)
