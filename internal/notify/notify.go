// Package notify publishes orchestration events to an MQTT topic.
// Delivery is best-effort: failures are logged and swallowed, never
// propagated to the orchestration core.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sonos-orchestrator/internal/logger"
)

// Config holds MQTT connection configuration.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Notifier publishes notification messages over MQTT.
type Notifier struct {
	client mqtt.Client
	topic  string
}

type message struct {
	Message     string    `json:"message"`
	PerformedBy string    `json:"performed_by,omitempty"`
	At          time.Time `json:"at"`
}

// New connects to the broker. The paho library's internal logging is
// silenced; connection state is reported through our own logger.
func New(cfg Config) (*Notifier, error) {
	mqtt.ERROR = log.New(io.Discard, "", 0)
	mqtt.CRITICAL = log.New(io.Discard, "", 0)
	mqtt.WARN = log.New(io.Discard, "", 0)

	brokerURL := cfg.Broker
	if !strings.HasPrefix(brokerURL, "tcp://") && !strings.HasPrefix(brokerURL, "ssl://") {
		brokerURL = "tcp://" + brokerURL
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("Notification broker connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connection timeout after 15 seconds")
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", token.Error())
	}
	logger.Debug("Notification broker connected at %s", brokerURL)

	topic := cfg.Topic
	if topic == "" {
		topic = "sonos/notifications"
	}
	return &Notifier{client: client, topic: topic}, nil
}

// Notify publishes one message. Failures are logged, never returned.
func (n *Notifier) Notify(msg, performedBy string) {
	if n == nil {
		return
	}
	payload, err := json.Marshal(message{
		Message:     msg,
		PerformedBy: performedBy,
		At:          time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to marshal notification: %v", err)
		return
	}

	token := n.client.Publish(n.topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		logger.Warn("Notification publish timed out")
		return
	}
	if token.Error() != nil {
		logger.Warn("Notification publish failed: %v", token.Error())
	}
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.client.Disconnect(250)
}
