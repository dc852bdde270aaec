package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
)

// DefaultBufferSize is the number of documents kept while disconnected.
const DefaultBufferSize = 1000

var errPublishTimeout = errors.New("publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
	Log        zerolog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Documents produced while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    zerolog.Logger

	mu        sync.Mutex
	buffer    *ringBuffer[bufferedMsg]
	onConnect []func(paho.Client)
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "line-oee"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topics: o.Topics,
		log:    o.Log,
		buffer: newRingBuffer[bufferedMsg](o.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.Name(TopicSystem), string(FormatWillPayload()), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Client returns the underlying paho client, for subscribing.
func (p *RealPublisher) Client() paho.Client {
	return p.client
}

// OnConnect registers fn to run after every (re)connect.
func (p *RealPublisher) OnConnect(fn func(paho.Client)) {
	p.mu.Lock()
	p.onConnect = append(p.onConnect, fn)
	p.mu.Unlock()
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	hooks := append([]func(paho.Client){}, p.onConnect...)
	p.mu.Unlock()

	p.log.Info().Int("buffered", len(pending)).Msg("MQTT connected")
	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			p.log.Warn().Str("topic", m.topic).Msg("Replay of buffered message failed")
		}
	}
	for _, fn := range hooks {
		fn(c)
	}
}

// IsConnected reports whether the connection to the broker is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// PublishRecord sends a production record to the broker.
func (p *RealPublisher) PublishRecord(r logic.ProductionRecord) error {
	payload, err := FormatRecord(r)
	if err != nil {
		return fmt.Errorf("format record: %w", err)
	}
	return p.publish(p.topics.Name(TopicProduction), 1, false, payload)
}

// PublishSummary sends a shift summary to the broker.
func (p *RealPublisher) PublishSummary(s logic.ShiftSummary) error {
	payload, err := FormatSummary(s)
	if err != nil {
		return fmt.Errorf("format summary: %w", err)
	}
	return p.publish(p.topics.Name(TopicProduction), 1, false, payload)
}

// PublishReply answers a query. Replies are not buffered: a stale answer
// after reconnect is useless to the requester.
func (p *RealPublisher) PublishReply(topic string, v any) error {
	payload, err := FormatReply(v)
	if err != nil {
		return fmt.Errorf("format reply: %w", err)
	}
	return p.send(topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(p.topics.Name(TopicSystem), 1, event.Retained, payload)
}

// publish sends now or buffers while disconnected.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		n := p.buffer.len()
		p.mu.Unlock()
		if dropped {
			p.log.Warn().Int("capacity", n).Msg("MQTT buffer full, dropping oldest")
		}
		return nil
	}
	return p.send(topic, qos, retained, payload)
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("%s: %w", topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
