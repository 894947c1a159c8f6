package mqtt

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

const (
	DefaultTopic = "radio-scanner/signals"

	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
	qos               = 1
)

// Config holds the broker connection settings
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// Message is the payload published for every locked signal
type Message struct {
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Signal    spectrum.Signal `json:"signal"`
}

// WithLogger sets the logger for the publisher
func WithLogger(logger *slog.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publisher publishes locked signals as JSON
type Publisher struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// Connect connects to the broker and returns a publisher for cfg.Topic.
func Connect(cfg Config, options ...func(*Publisher)) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	p := NewPublisher(nil, cfg.Topic, options...)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.logger.Info("connected to MQTT broker", slog.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.logger.Warn(fmt.Sprintf("MQTT connection lost: %s", err.Error()))
	})

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	return p, nil
}

// NewPublisher returns a publisher over an established client.
func NewPublisher(client mqtt.Client, topic string, options ...func(*Publisher)) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}

	p := Publisher{
		client: client,
		topic:  topic,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Publish publishes signal with QoS 1 and waits for the broker to
// acknowledge it.
func (p *Publisher) Publish(sessionID string, signal spectrum.Signal) error {
	payload, err := json.Marshal(Message{
		SessionID: sessionID,
		Timestamp: p.now().UTC(),
		Signal:    signal,
	})
	if err != nil {
		return fmt.Errorf("marshaling signal: %w", err)
	}

	token := p.client.Publish(p.topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out after %s", p.topic, publishTimeout)
	}
	if err = token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}

	p.logger.Debug("signal published",
		slog.String("topic", p.topic),
		slog.Int64("frequency", signal.FrequencyHz),
	)
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
