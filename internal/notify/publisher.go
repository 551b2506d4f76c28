// Package notify publishes gate events for dashboards and site automation.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gate-service/internal/config"
	"gate-service/internal/domain/gate"
)

const (
	EventOutcome  = "outcome"
	EventOverride = "override"
	EventEntry    = "entry"
	EventAborted  = "aborted"

	publishTimeout = 10 * time.Second
	connectTimeout = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected to MQTT broker")

type Publisher interface {
	Publish(ctx context.Context, event gate.Event) error
	Close()
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, gate.Event) error { return nil }
func (NopPublisher) Close()                                    {}

// MQTTPublisher sends each event as JSON to <topic>/<gate>/<type>.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// NewPublisher returns a NopPublisher when cfg has no broker.
func NewPublisher(cfg config.MQTTConfig, log zerolog.Logger) (Publisher, error) {
	if cfg.Broker == "" {
		log.Info().Msg("mqtt broker not configured, events will not be published")
		return NopPublisher{}, nil
	}
	return NewMQTTPublisher(cfg, log)
}

func NewMQTTPublisher(cfg config.MQTTConfig, log zerolog.Logger) (*MQTTPublisher, error) {
	log = log.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("connection to mqtt broker lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	return newMQTTPublisher(client, cfg.Topic, log), nil
}

func newMQTTPublisher(client mqtt.Client, topic string, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, log: log}
}

func (p *MQTTPublisher) Publish(ctx context.Context, event gate.Event) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/%s", p.topic, event.Gate, event.Type)
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("event published")
	return nil
}

func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
