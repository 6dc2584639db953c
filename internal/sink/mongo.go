package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// inserter is the part of *mongo.Collection the sink uses
type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink inserts one document per event into a MongoDB collection
type MongoSink struct {
	client     *mongo.Client
	collection inserter
	timeout    time.Duration
	logger     *logger.Logger
}

// NewMongoSink creates the client. The driver connects lazily, so this
// succeeds while the appliance is offline.
func NewMongoSink(ctx context.Context, cfg config.RemoteConfig, log *logger.Logger) (*MongoSink, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetServerSelectionTimeout(cfg.Timeout).
		SetConnectTimeout(cfg.Timeout).
		SetAppName("sentinel")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	log.Info("Remote store configured",
		"backend", "mongo",
		"database", cfg.Database,
		"collection", cfg.Collection,
	)

	return &MongoSink{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
		logger:     log,
	}, nil
}

// Name returns the sink name
func (s *MongoSink) Name() string {
	return "mongo"
}

// Upload inserts the event
func (s *MongoSink) Upload(ctx context.Context, event *events.DetectionEvent) error {
	doc, err := NewDocument(event)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert %s: %w", event.ID, err)
	}
	s.logger.Debug("Inserted detection", "event_id", event.ID, "inserted_id", res.InsertedID)
	return nil
}

// Close disconnects the client
func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
