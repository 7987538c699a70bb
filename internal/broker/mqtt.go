package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ecotionbuddy/binhub/internal/logging"
)

const defaultTimeout = 5 * time.Second

// ErrConnectionLost is reported on a Subscription's Err channel when the
// broker drops the connection without a cause.
var ErrConnectionLost = errors.New("broker: connection lost")

// Options configures the MQTT client.
type Options struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration // connect / publish wait
	Logger   *slog.Logger
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// BrokerURL returns the tcp URL of the broker.
func (o Options) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", o.Host, o.Port)
}

func (o Options) clientOptions(clientID string) *mqtt.ClientOptions {
	co := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL()).
		SetClientID(clientID).
		SetConnectTimeout(o.timeout()).
		SetCleanSession(true)
	if o.Username != "" {
		co.SetUsername(o.Username).SetPassword(o.Password)
	}
	return co
}

func connect(c mqtt.Client, timeout time.Duration) error {
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("broker: connect timed out after %v", timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}
	return nil
}

// MQTTPublisher is a lazily connected, auto-reconnecting publisher shared by
// every command path.
type MQTTPublisher struct {
	opts   Options
	log    *slog.Logger
	mu     sync.Mutex
	client mqtt.Client
}

// NewPublisher returns a publisher. No connection is made until the first
// Publish.
func NewPublisher(opts Options) *MQTTPublisher {
	return &MQTTPublisher{
		opts: opts,
		log:  logging.OrDiscard(opts.Logger).With("component", "broker.publisher"),
	}
}

func (p *MQTTPublisher) conn() (mqtt.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	o := p.opts.clientOptions(p.opts.ClientID + "-pub").
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn("publisher connection lost", "error", err)
		})
	c := mqtt.NewClient(o)
	if err := connect(c, p.opts.timeout()); err != nil {
		return nil, err
	}
	p.client = c
	p.log.Info("publisher connected", "broker", p.opts.BrokerURL())
	return c, nil
}

// Publish sends payload to topic and waits for the broker to accept it.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	c, err := p.conn()
	if err != nil {
		return err
	}
	tok := c.Publish(topic, p.opts.QoS, false, payload)

	timer := time.NewTimer(p.opts.timeout())
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("broker: publish to %s timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects the pooled client, if any.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(250)
		p.client = nil
	}
}

// MQTTSource opens one dedicated connection per subscription. Reconnection is
// left to the caller so it can apply its own backoff.
type MQTTSource struct {
	opts Options
}

// NewSource returns an MQTT-backed Source.
func NewSource(opts Options) *MQTTSource {
	return &MQTTSource{opts: opts}
}

// Subscribe connects and subscribes to topic.
func (s *MQTTSource) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &mqttSub{
		msgs: make(chan Message, 64),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}

	o := s.opts.clientOptions(s.opts.ClientID).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if err == nil {
				err = ErrConnectionLost
			}
			sub.fail(err)
		})
	c := mqtt.NewClient(o)
	if err := connect(c, s.opts.timeout()); err != nil {
		return nil, err
	}
	sub.client = c

	tok := c.Subscribe(topic, s.opts.QoS, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case sub.msgs <- Message{Topic: m.Topic(), Payload: m.Payload()}:
		case <-sub.done:
		}
	})
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		c.Disconnect(0)
		return nil, fmt.Errorf("broker: subscribe %s: %w", topic, err)
	}
	return sub, nil
}

type mqttSub struct {
	client mqtt.Client
	msgs   chan Message
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func (s *mqttSub) Messages() <-chan Message { return s.msgs }
func (s *mqttSub) Err() <-chan error        { return s.errs }

func (s *mqttSub) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *mqttSub) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.client != nil {
			s.client.Disconnect(250)
		}
	})
}
