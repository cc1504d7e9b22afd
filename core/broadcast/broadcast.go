// Package broadcast defines the fire-and-forget publication boundary used by
// the engines. Transports (event bus, websocket, MQTT) implement Publisher.
package broadcast

// Global is the scope of events delivered to every subscriber.
const Global = ""

// Topics emitted by the engines.
const (
	TopicGridUpdate    = "GRID_UPDATE"
	TopicMeterUpdate   = "METER_UPDATE"
	TopicMyMeterUpdate = "MY_METER_UPDATE"
)

// Publisher delivers payload to the subscribers of topic. A non-empty scope
// restricts delivery to subscribers of that entity.
type Publisher interface {
	Publish(topic string, payload any, scope string)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, any, string) {}
