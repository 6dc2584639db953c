// Package gate decides which raw detections become detection events.
package gate

import (
	"errors"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
)

var (
	// ErrBelowThreshold: confidence under the configured minimum
	ErrBelowThreshold = errors.New("confidence below threshold")
	// ErrSuppressed: species is on the suppression list
	ErrSuppressed = errors.New("species suppressed")
)

// Detection is one raw detector output
type Detection struct {
	Label      string              `json:"label"`
	Confidence float64             `json:"confidence"` // 0..1
	ImagePath  string              `json:"image_path"`
	BBox       *events.BoundingBox `json:"bbox,omitempty"`
}

// Gate filters detections. Admit does no I/O and never reads the clock.
type Gate struct {
	minConfidence float64
	suppressed    map[string]struct{}
	catalog       *Catalog
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

// Config contains configuration for the gate
type Config struct {
	MinConfidence int // percent
	Suppressed    []string
	Catalog       *Catalog         // defaults to DefaultCatalog
	Metrics       *metrics.Metrics // optional
}

// New creates a new gate
func New(config Config, log *logger.Logger) *Gate {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	suppressed := make(map[string]struct{}, len(config.Suppressed))
	for _, s := range config.Suppressed {
		suppressed[normalize(s)] = struct{}{}
	}
	return &Gate{
		minConfidence: float64(config.MinConfidence),
		suppressed:    suppressed,
		catalog:       config.Catalog,
		metrics:       config.Metrics,
		logger:        log,
	}
}

// Admit turns a detection into a pending event shell, or rejects it.
// Confidence is compared as the percentage stored on the event, rounded to
// two decimals, so 69.996% passes a 70% threshold. Equal is admitted.
func (g *Gate) Admit(d Detection) (*events.DetectionEvent, error) {
	percent := events.RoundConfidence(d.Confidence * 100)
	if percent < g.minConfidence {
		g.metrics.RecordRejected("below_threshold")
		g.logger.Debug("Detection below threshold", "species", d.Label, "confidence", percent, "threshold", g.minConfidence)
		return nil, fmt.Errorf("%w: %s at %.2f%% (minimum %.0f%%)", ErrBelowThreshold, d.Label, percent, g.minConfidence)
	}

	if _, ok := g.suppressed[normalize(d.Label)]; ok {
		g.metrics.RecordRejected("suppressed")
		g.logger.Debug("Detection suppressed", "species", d.Label)
		return nil, fmt.Errorf("%w: %s", ErrSuppressed, d.Label)
	}

	event := events.NewDetectionEvent(d.Label, g.catalog.ScientificName(d.Label), percent, d.ImagePath)
	event.RiskLevel = g.catalog.RiskLevel(d.Label)
	if d.BBox != nil {
		bb := *d.BBox
		event.BoundingBox = &bb
	}

	g.metrics.RecordAdmitted()
	g.logger.Info("Detection admitted",
		"event_id", event.ID,
		"species", event.SpeciesName,
		"scientific_name", event.ScientificName,
		"confidence", event.Confidence,
		"risk_level", event.RiskLevel,
	)
	return event, nil
}

// Catalog returns the species catalog in use
func (g *Gate) Catalog() *Catalog {
	return g.catalog
}
