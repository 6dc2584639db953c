// Package notify announces stored detections to interested listeners.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// ErrNotConnected: the broker connection is down
var ErrNotConnected = errors.New("mqtt not connected")

// Notifier announces a detection once it has been stored
type Notifier interface {
	Notify(ctx context.Context, event *events.DetectionEvent, outcome events.Outcome) error
}

// Nop discards every notification
type Nop struct{}

// Notify does nothing
func (Nop) Notify(ctx context.Context, event *events.DetectionEvent, outcome events.Outcome) error {
	return nil
}

// Message is the announcement payload. The image is never included.
type Message struct {
	EventID        string                `json:"event_id"`
	Species        string                `json:"species"`
	ScientificName string                `json:"scientific_name"`
	Confidence     float64               `json:"confidence"`
	RiskLevel      int                   `json:"risk_level"`
	Outcome        events.Outcome        `json:"outcome"`
	Sensor         events.SensorSnapshot `json:"sensor"`
	Date           string                `json:"date"`
	Time           string                `json:"time"`
}

// NewMessage builds the payload for an event
func NewMessage(e *events.DetectionEvent, outcome events.Outcome) Message {
	return Message{
		EventID:        e.ID,
		Species:        e.SpeciesName,
		ScientificName: e.ScientificName,
		Confidence:     e.Confidence,
		RiskLevel:      e.RiskLevel,
		Outcome:        outcome,
		Sensor:         e.Sensor,
		Date:           e.CapturedAt.Date,
		Time:           e.CapturedAt.Time,
	}
}

// publisher is the part of mqtt.Client the notifier uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
}

// MQTTNotifier publishes detections to an MQTT topic
type MQTTNotifier struct {
	*service.ServiceBase

	cfg            config.MQTTConfig
	publishTimeout time.Duration
	metrics        *metrics.Metrics

	mu     sync.RWMutex
	client mqtt.Client
	pub    publisher
}

// NewMQTTNotifier creates a notifier. The broker connection is made by Start.
func NewMQTTNotifier(cfg config.MQTTConfig, m *metrics.Metrics, log *logger.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		ServiceBase:    service.NewServiceBase("mqtt-notifier", log),
		cfg:            cfg,
		publishTimeout: 2 * time.Second,
		metrics:        m,
	}
}

// Start connects to the broker in the background; the client keeps retrying
// until the broker is reachable.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	opts.SetClientID(n.cfg.ClientID)
	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(n.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		n.LogInfo("MQTT connected", "broker", n.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		n.LogWarn("MQTT connection lost, reconnecting", "broker", n.cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	client.Connect()

	n.mu.Lock()
	n.client = client
	n.pub = client
	n.mu.Unlock()

	n.LogInfo("MQTT notifier started", "broker", n.cfg.Broker, "topic", n.cfg.Topic)
	return nil
}

// Stop disconnects from the broker
func (n *MQTTNotifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	client := n.client
	n.client = nil
	n.pub = nil
	n.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

// Notify publishes one message at QoS 1. It does not wait longer than the
// publish timeout.
func (n *MQTTNotifier) Notify(ctx context.Context, event *events.DetectionEvent, outcome events.Outcome) error {
	err := n.publish(ctx, event, outcome)
	n.metrics.RecordNotification(err)
	if err != nil {
		n.LogDebug("Detection notification not sent", "event_id", event.ID, "error", err)
	}
	return err
}

func (n *MQTTNotifier) publish(ctx context.Context, event *events.DetectionEvent, outcome events.Outcome) error {
	n.mu.RLock()
	pub := n.pub
	n.mu.RUnlock()

	if pub == nil || !pub.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewMessage(event, outcome))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	token := pub.Publish(n.cfg.Topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-time.After(n.publishTimeout):
		return fmt.Errorf("publish timeout after %s", n.publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}
