package events

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// Unknown is the value of any field that could not be determined
const Unknown = "unknown"

// DetectionEvent is one admitted detection destined for durable storage
type DetectionEvent struct {
	ID             string                `json:"id"`
	SpeciesName    string                `json:"species_name"`
	ScientificName string                `json:"scientific_name"`
	Confidence     float64               `json:"confidence"` // percent, 2 decimals
	Sensor         SensorSnapshot        `json:"sensor_snapshot"`
	Image          ImageReference        `json:"image_reference"`
	CapturedAt     CapturedAt            `json:"captured_at"`
	BoundingBox    *BoundingBox          `json:"bounding_box,omitempty"`
	RiskLevel      int                   `json:"risk_level"`
	Status         state.DetectionStatus `json:"-"`
}

// SensorSnapshot holds the sensor values read after actuation
type SensorSnapshot struct {
	Longitude   string `json:"longitude"`
	Latitude    string `json:"latitude"`
	Temperature string `json:"temperature"`
	Light       string `json:"light"`
}

// UnknownSnapshot is the snapshot used when no sensor read succeeded
func UnknownSnapshot() SensorSnapshot {
	return SensorSnapshot{
		Longitude:   Unknown,
		Latitude:    Unknown,
		Temperature: Unknown,
		Light:       Unknown,
	}
}

// ImageReference is either a local path (queued) or the encoded image bytes
// (ready for the remote store). Exactly one field is set.
type ImageReference struct {
	Path    string `json:"path,omitempty"`
	Encoded string `json:"encoded,omitempty"`
}

// Resolved reports whether the image bytes are embedded
func (r ImageReference) Resolved() bool {
	return r.Encoded != ""
}

// CapturedAt is the local wall clock at persistence time
type CapturedAt struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time"` // HH:MM:SS
}

// NewCapturedAt formats t as a CapturedAt
func NewCapturedAt(t time.Time) CapturedAt {
	return CapturedAt{
		Date: t.Format("2006-01-02"),
		Time: t.Format("15:04:05"),
	}
}

// Timestamp parses the CapturedAt back into a local time
func (c CapturedAt) Timestamp() (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05", c.Date+" "+c.Time, time.Local)
}

// BoundingBox is the detector box in pixels
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Height returns the box height in pixels
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// NewDetectionEvent creates a pending event shell with a fresh id and
// unknown sensor values
func NewDetectionEvent(species, scientificName string, confidencePercent float64, imagePath string) *DetectionEvent {
	if scientificName == "" {
		scientificName = Unknown
	}
	return &DetectionEvent{
		ID:             uuid.New().String(),
		SpeciesName:    species,
		ScientificName: scientificName,
		Confidence:     RoundConfidence(confidencePercent),
		Sensor:         UnknownSnapshot(),
		Image:          ImageReference{Path: imagePath},
		Status:         state.StatusPending,
	}
}

// RoundConfidence rounds a percentage to two decimals
func RoundConfidence(percent float64) float64 {
	return math.Round(percent*100) / 100
}

// Clone returns a deep copy
func (e *DetectionEvent) Clone() *DetectionEvent {
	c := *e
	if e.BoundingBox != nil {
		bb := *e.BoundingBox
		c.BoundingBox = &bb
	}
	return &c
}

// ResolveImage returns a copy of the event with the image bytes embedded.
// The receiver is never modified. A missing or unreadable image yields
// ErrImageMissing.
func (e *DetectionEvent) ResolveImage() (*DetectionEvent, error) {
	c := e.Clone()
	if c.Image.Resolved() {
		return c, nil
	}
	if c.Image.Path == "" {
		return nil, fmt.Errorf("%w: event %s has no image reference", ErrImageMissing, e.ID)
	}

	data, err := os.ReadFile(c.Image.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageMissing, c.Image.Path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrImageMissing, c.Image.Path, err)
	}

	c.Image = ImageReference{Encoded: base64.StdEncoding.EncodeToString(data)}
	return c, nil
}

// ledgerRecord converts the event to a ledger row
func (e *DetectionEvent) ledgerRecord() state.DetectionRecord {
	rec := state.DetectionRecord{
		ID:             e.ID,
		SpeciesName:    e.SpeciesName,
		ScientificName: e.ScientificName,
		Confidence:     e.Confidence,
		ImagePath:      e.Image.Path,
		Status:         e.Status,
	}
	if ts, err := e.CapturedAt.Timestamp(); err == nil {
		rec.CapturedAt = ts
	}
	return rec
}
