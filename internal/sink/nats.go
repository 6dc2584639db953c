package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// publisher is the part of nats.JetStreamContext the sink uses
type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSSink publishes each event to a JetStream subject and waits for the
// stream to acknowledge it
type NATSSink struct {
	conn    *nats.Conn
	js      publisher
	subject string
	timeout time.Duration
	logger  *logger.Logger
}

// NewNATSSink connects to NATS. The connection keeps retrying in the
// background, so this succeeds while the appliance is offline.
func NewNATSSink(cfg config.RemoteConfig, log *logger.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("sentinel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	log.Info("Remote store configured", "backend", "nats", "subject", cfg.Subject)

	return &NATSSink{
		conn:    nc,
		js:      js,
		subject: cfg.Subject,
		timeout: cfg.Timeout,
		logger:  log,
	}, nil
}

// Name returns the sink name
func (s *NATSSink) Name() string {
	return "nats"
}

// Upload publishes the event and waits for the PubAck
func (s *NATSSink) Upload(ctx context.Context, event *events.DetectionEvent) error {
	doc, err := NewDocument(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ack, err := s.js.Publish(s.subject, data, nats.Context(ctx), nats.MsgId(event.ID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}
	s.logger.Debug("Published detection", "event_id", event.ID, "stream", ack.Stream, "seq", ack.Sequence)
	return nil
}

// Close drains and closes the connection
func (s *NATSSink) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
