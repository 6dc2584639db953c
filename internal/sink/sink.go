// Package sink delivers detection events to the remote store.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// ErrUnresolvedImage: the event still carries a path instead of image bytes
var ErrUnresolvedImage = errors.New("image not embedded")

// Sink is a remote store. Upload makes exactly one attempt and never
// retries; callers queue the event on failure.
type Sink interface {
	events.Uploader
	Name() string
	Close(ctx context.Context) error
}

// Document is the remote representation of a detection
type Document struct {
	ID             string  `bson:"event_id" json:"event_id"`
	Name           string  `bson:"name" json:"name"`
	ScientificName string  `bson:"scientific_name" json:"scientific_name"`
	Temperature    string  `bson:"temperature" json:"temperature"`
	Light          string  `bson:"light" json:"light"`
	Image          string  `bson:"image" json:"image"`
	Latitude       string  `bson:"latitude" json:"latitude"`
	Longitude      string  `bson:"longitude" json:"longitude"`
	Confidence     float64 `bson:"confidence" json:"confidence"`
	RiskLevel      int     `bson:"risk_level" json:"risk_level"`
	Date           string  `bson:"date" json:"date"`
	Time           string  `bson:"time" json:"time"`
}

// NewDocument builds the remote document for an event whose image has
// already been embedded
func NewDocument(e *events.DetectionEvent) (Document, error) {
	if !e.Image.Resolved() {
		return Document{}, fmt.Errorf("%w: event %s references %q", ErrUnresolvedImage, e.ID, e.Image.Path)
	}
	return Document{
		ID:             e.ID,
		Name:           e.SpeciesName,
		ScientificName: e.ScientificName,
		Temperature:    e.Sensor.Temperature,
		Light:          e.Sensor.Light,
		Image:          e.Image.Encoded,
		Latitude:       e.Sensor.Latitude,
		Longitude:      e.Sensor.Longitude,
		Confidence:     e.Confidence,
		RiskLevel:      e.RiskLevel,
		Date:           e.CapturedAt.Date,
		Time:           e.CapturedAt.Time,
	}, nil
}

// New creates the sink selected by cfg.Backend
func New(ctx context.Context, cfg config.RemoteConfig, log *logger.Logger) (Sink, error) {
	switch cfg.Backend {
	case "mongo":
		return NewMongoSink(ctx, cfg, log)
	case "nats":
		return NewNATSSink(cfg, log)
	default:
		return nil, fmt.Errorf("unknown remote backend: %s", cfg.Backend)
	}
}
