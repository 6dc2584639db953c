package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	token     *fakeToken
	topics    []string
	payloads  [][]byte
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func (p *fakePublisher) IsConnectionOpen() bool { return p.connected }

func newTestNotifier(t *testing.T, pub *fakePublisher) (*MQTTNotifier, *metrics.Metrics) {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	n := NewMQTTNotifier(config.MQTTConfig{Topic: "sentinel/detections"}, m, logger.NewNopLogger())
	n.publishTimeout = 20 * time.Millisecond
	if pub != nil {
		n.pub = pub
	}
	return n, m
}

func testEvent() *events.DetectionEvent {
	e := events.NewDetectionEvent("Japanese Beetle", "Popillia japonica", 88.5, "/tmp/beetle.jpg")
	e.RiskLevel = 2
	e.CapturedAt = events.CapturedAt{Date: "2026-07-04", Time: "09:15:00"}
	return e
}

func TestMQTTNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{connected: true, token: newFakeToken(nil, true)}
	n, m := newTestNotifier(t, pub)
	e := testEvent()

	require.NoError(t, n.Notify(context.Background(), e, events.OutcomeQueued))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "sentinel/detections", pub.topics[0])

	var msg Message
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, e.ID, msg.EventID)
	assert.Equal(t, "Japanese Beetle", msg.Species)
	assert.Equal(t, events.OutcomeQueued, msg.Outcome)
	assert.Equal(t, 2, msg.RiskLevel)
	assert.Equal(t, "09:15:00", msg.Time)
	assert.NotContains(t, string(pub.payloads[0]), "beetle.jpg")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("ok")))
}

func TestMQTTNotifier_NotConnected(t *testing.T) {
	n, m := newTestNotifier(t, nil)
	err := n.Notify(context.Background(), testEvent(), events.OutcomePersisted)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("error")))

	pub := &fakePublisher{connected: false, token: newFakeToken(nil, true)}
	n, _ = newTestNotifier(t, pub)
	assert.ErrorIs(t, n.Notify(context.Background(), testEvent(), events.OutcomePersisted), ErrNotConnected)
	assert.Empty(t, pub.topics)
}

func TestMQTTNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{connected: true, token: newFakeToken(errors.New("not authorized"), true)}
	n, _ := newTestNotifier(t, pub)

	err := n.Notify(context.Background(), testEvent(), events.OutcomePersisted)
	assert.ErrorContains(t, err, "not authorized")
}

func TestMQTTNotifier_Timeout(t *testing.T) {
	pub := &fakePublisher{connected: true, token: newFakeToken(nil, false)}
	n, _ := newTestNotifier(t, pub)

	err := n.Notify(context.Background(), testEvent(), events.OutcomePersisted)
	assert.ErrorContains(t, err, "timeout")
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(context.Background(), testEvent(), events.OutcomeQueued))
}
