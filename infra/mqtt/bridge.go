// Package mqtt mirrors grid and meter updates onto an MQTT broker using
// Eclipse Paho.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/core/monitoring"
	"github.com/kilianp07/gridx/infra/logger"
	"github.com/kilianp07/gridx/internal/eventbus"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Bridge publishes broadcast events to MQTT topics under a prefix:
// GRID_UPDATE to <prefix>/grid/update, METER_UPDATE to <prefix>/meter/update
// and MY_METER_UPDATE to <prefix>/meter/<user>/update.
type Bridge struct {
	cli        pahoClient
	prefix     string
	qos        byte
	retain     bool
	statusTop  string
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewBridge connects to the broker and announces "online" on the status
// topic.
func NewBridge(cfg Config) (*Bridge, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_bridge")
	b := &Bridge{
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:        cfg.QoS,
		retain:     cfg.Retain,
		statusTop:  cfg.LWTTopic,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if b.statusTop != "" {
			c.Publish(b.statusTop, cfg.LWTQoS, true, "online")
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = c
	return b, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetConnectTimeout(5 * time.Second)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// TopicFor maps a broadcast topic and scope to an MQTT topic.
func (b *Bridge) TopicFor(topic, scope string) string {
	switch topic {
	case broadcast.TopicGridUpdate:
		return b.prefix + "/grid/update"
	case broadcast.TopicMeterUpdate:
		return b.prefix + "/meter/update"
	case broadcast.TopicMyMeterUpdate:
		return fmt.Sprintf("%s/meter/%s/update", b.prefix, scope)
	default:
		return b.prefix + "/events/" + strings.ToLower(topic)
	}
}

// Send publishes payload as JSON, retrying with exponential backoff.
func (b *Bridge) Send(topic string, payload any, scope string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	target := b.TopicFor(topic, scope)
	var publishErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		token := b.cli.Publish(target, b.qos, b.retain, data)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		b.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, target, publishErr)
		if attempt < b.maxRetries {
			time.Sleep(b.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"component": "mqtt_bridge", "topic": target})
	return publishErr
}

// Publish implements broadcast.Publisher. Failures are logged only.
func (b *Bridge) Publish(topic string, payload any, scope string) {
	if err := b.Send(topic, payload, scope); err != nil {
		b.log.Warnf("dropping %s: %v", topic, err)
	}
}

// Forward publishes every message received on sub until ctx is done or sub
// is closed.
func (b *Bridge) Forward(ctx context.Context, sub <-chan eventbus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub:
			if !ok {
				return
			}
			b.Publish(m.Topic, m.Payload, m.Scope)
		}
	}
}

// Disconnect marks the bridge offline and closes the connection.
func (b *Bridge) Disconnect() {
	if b.cli == nil || !b.cli.IsConnected() {
		return
	}
	if b.statusTop != "" {
		b.cli.Publish(b.statusTop, 0, true, "offline").WaitTimeout(time.Second)
	}
	b.cli.Disconnect(250)
}

var _ broadcast.Publisher = (*Bridge)(nil)
