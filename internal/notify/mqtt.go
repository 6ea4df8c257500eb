package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

// alertQoS delivers at least once.
const alertQoS byte = 1

// MQTT publishes decisions as JSON to a broker topic.
type MQTT struct {
	client mqtt.Client
	topic  string
	log    *zap.Logger
}

// NewMQTT wraps a connected client.
func NewMQTT(client mqtt.Client, topic string, log *zap.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, log: logger.OrNop(log)}
}

// DialMQTT connects to broker and returns a publishing sink.
func DialMQTT(broker, clientID, username, password, topic string, log *zap.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("notify: connect mqtt broker: %w", token.Error())
	}
	return NewMQTT(client, topic, log), nil
}

func (m *MQTT) Notify(ctx context.Context, d trigger.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("notify: encode decision: %w", err)
	}

	token := m.client.Publish(m.topic, alertQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("notify: mqtt publish: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: mqtt publish to %s: %w", m.topic, err)
	}
	m.log.Debug("notify: mqtt published", zap.String("topic", m.topic), zap.String("id", d.ID))
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
