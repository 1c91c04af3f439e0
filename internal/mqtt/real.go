package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// DefaultBufferSize is how many messages are held while the broker is
// unreachable.
const DefaultBufferSize = 256

// CommandFunc receives a message from the command topic. It runs on the
// paho router goroutine.
type CommandFunc func(topic string, payload []byte)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	OnCommand  CommandFunc
	Log        *logrus.Entry
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *logrus.Entry

	mu        sync.Mutex
	outbox    *outbox
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher and starts connecting. An
// unreachable broker is not an error: the client keeps retrying in the
// background and buffers in the meantime.
func NewRealPublisher(o Options) *RealPublisher {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topics: o.Topics,
		log:    o.Log,
		outbox: newOutbox(o.BufferSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetBinaryWill(o.Topics.System, will, 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.setConnected(false)
			p.log.WithError(err).Warn("connection lost")
		}).
		SetOnConnectHandler(func(c paho.Client) {
			p.onConnect(c, o.OnCommand)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.WithField("broker", o.Broker).Warn("could not connect initially, will retry in background")
	} else if err := token.Error(); err != nil {
		p.log.WithError(err).Warn("connect failed, will retry in background")
	}
	return p
}

func (p *RealPublisher) onConnect(c paho.Client, onCommand CommandFunc) {
	p.log.Info("connected to broker")

	if onCommand != nil {
		token := c.Subscribe(p.topics.Command, 1, func(_ paho.Client, m paho.Message) {
			onCommand(m.Topic(), m.Payload())
		})
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.log.WithError(token.Error()).Error("subscribe to command topic")
		}
	}

	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	p.connected = true
	pending, dropped := p.outbox.drain()
	p.mu.Unlock()

	if len(pending) > 0 {
		p.log.WithFields(logrus.Fields{"count": len(pending), "dropped": dropped}).Info("replaying buffered messages")
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(p.topics.System, 1, true, payload)
	}
}

func (p *RealPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.mu.Lock()
	if !p.connected {
		if p.outbox.push(msg) {
			p.log.WithField("capacity", p.outbox.capacity).Warn("offline buffer full, dropping oldest")
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.mu.Lock()
		p.outbox.push(msg)
		p.mu.Unlock()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishEvent sends a controller event, QoS 0, not retained.
func (p *RealPublisher) PublishEvent(e Event) error {
	payload, err := FormatEvent(e)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return p.publish(p.topics.Events, 0, false, payload)
}

// PublishFault sends a fault edge at QoS 1.
func (p *RealPublisher) PublishFault(f FaultEvent) error {
	payload, err := FormatFault(f)
	if err != nil {
		return fmt.Errorf("format fault: %w", err)
	}
	return p.publish(p.topics.Faults, 1, false, payload)
}

// PublishTelemetry sends the retained status snapshot.
func (p *RealPublisher) PublishTelemetry(t control.Telemetry) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}
	return p.publish(p.topics.Telemetry, 0, true, payload)
}

// PublishSystem sends a system lifecycle event.
// QoS 1 (at-least-once): we want lifecycle events delivered.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
