package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/amp-switch/internal/events"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int // DefaultBufferSize when zero

	// OnDrop, if set, is called with the topic of every message that will
	// never reach the broker: evicted from a full outbox or failed on replay.
	OnDrop func(topic string)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the broker is unreachable are buffered and replayed, oldest first, once the
// connection is back.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *log.Entry

	onDrop func(topic string)

	mu        sync.Mutex
	box       *outbox
	connected bool
	connects  int // incremented on every (re)connect
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting in the background. It never blocks on the broker.
func NewRealPublisher(o Options) *RealPublisher {
	p := newPublisher(nil, o)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(willPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.WithError(err).Warn("connect to broker")
		}
	}()
	return p
}

func newPublisher(client paho.Client, o Options) *RealPublisher {
	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	topics := o.Topics
	if topics.Events == "" || topics.System == "" {
		topics = TopicsFor(DefaultPrefix)
	}
	onDrop := o.OnDrop
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &RealPublisher{
		client: client,
		topics: topics,
		logger: log.WithField("component", "mqtt"),
		onDrop: onDrop,
		box:    newOutbox(size),
	}
}

func (p *RealPublisher) onConnect(paho.Client) {
	p.mu.Lock()
	p.connects++
	gen := p.connects
	p.mu.Unlock()

	// Handlers must not block the paho router.
	go p.flush(gen)
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.logger.WithError(err).Warn("connection lost, buffering")
}

// flush announces a reconnect and replays the buffer. New messages keep
// going to the buffer until it is empty, so replay order is preserved.
func (p *RealPublisher) flush(gen int) {
	if gen > 1 {
		p.logger.Info("reconnected to broker")
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		if err := p.send(p.topics.System, 1, false, payload); err != nil {
			p.logger.WithError(err).Warn("publish reconnected event")
		}
	} else {
		p.logger.Info("connected to broker")
	}

	for {
		p.mu.Lock()
		if gen != p.connects {
			// A newer connection owns the buffer now.
			p.mu.Unlock()
			return
		}
		pending, evicted := p.box.take()
		if len(pending) == 0 {
			p.connected = true
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		entry := p.logger.WithField("messages", len(pending))
		if evicted > 0 {
			entry = entry.WithField("evicted", evicted)
		}
		entry.Info("replaying buffered messages")
		for _, m := range pending {
			if err := p.send(m.topic, m.qos, m.retained, m.payload); err != nil {
				p.logger.WithError(err).WithField("topic", m.topic).Warn("replay failed, message dropped")
				p.onDrop(m.topic)
			}
		}
	}
}

// enqueue publishes msg, or queues it in the outbox while disconnected.
func (p *RealPublisher) enqueue(msg message) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return p.send(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	dropped, full := p.box.add(msg)
	first := full && p.box.evicted == 1
	p.mu.Unlock()

	if full {
		if first {
			p.logger.WithField("limit", p.box.limit).Warn("outbox full, dropping messages until reconnected")
		}
		p.onDrop(dropped.topic)
	}
	return nil
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a level change to the events topic.
func (p *RealPublisher) Publish(event events.LevelEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.enqueue(message{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.enqueue(message{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether messages currently go straight to the broker.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.box.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
