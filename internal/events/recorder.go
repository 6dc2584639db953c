package events

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// OnlineChecker answers whether the remote store is worth trying
type OnlineChecker interface {
	IsOnline(ctx context.Context, timeout time.Duration) bool
}

// Outcome is where Record put an event
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeQueued    Outcome = "queued"
)

// Recorder persists admitted events, preferring the remote store and falling
// back to the local queue
type Recorder struct {
	queue        *Queue
	sink         Uploader
	probe        OnlineChecker
	probeTimeout time.Duration
	ledger       Ledger
	metrics      *metrics.Metrics
	logger       *logger.Logger
	now          func() time.Time
}

// RecorderConfig contains the recorder's collaborators
type RecorderConfig struct {
	Queue        *Queue
	Sink         Uploader
	Probe        OnlineChecker
	ProbeTimeout time.Duration
	Ledger       Ledger           // optional
	Metrics      *metrics.Metrics // optional
	Clock        func() time.Time // defaults to time.Now
}

// NewRecorder creates a new recorder
func NewRecorder(config RecorderConfig, log *logger.Logger) *Recorder {
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Recorder{
		queue:        config.Queue,
		sink:         config.Sink,
		probe:        config.Probe,
		probeTimeout: config.ProbeTimeout,
		ledger:       config.Ledger,
		metrics:      config.Metrics,
		logger:       log,
		now:          config.Clock,
	}
}

// Record stamps the event with the persistence time and stores it. When
// online, the queue is drained first and the event is uploaded once; when
// offline, or when anything on the remote path fails, the event is queued
// with its image still a path. An error is returned only when the event
// could not be stored anywhere.
func (r *Recorder) Record(ctx context.Context, event *DetectionEvent) (Outcome, error) {
	event.CapturedAt = NewCapturedAt(r.now())
	event.Status = state.StatusPending
	r.saveLedger(ctx, event)

	if !r.probe.IsOnline(ctx, r.probeTimeout) {
		r.logger.Info("Offline, queueing detection", "event_id", event.ID, "species", event.SpeciesName)
		return r.enqueue(ctx, event)
	}

	if _, err := r.queue.Drain(ctx, r.sink); err != nil {
		r.logger.Warn("Queue drain before upload failed", "error", err)
	}

	resolved, err := event.ResolveImage()
	if err != nil {
		r.logger.Warn("Cannot embed image, queueing detection", "event_id", event.ID, "error", err)
		return r.enqueue(ctx, event)
	}

	start := time.Now()
	err = r.sink.Upload(ctx, resolved)
	r.metrics.RecordUpload(time.Since(start), err)
	if err != nil {
		r.logger.Warn("Upload failed, queueing detection",
			"event_id", event.ID,
			"error", fmt.Errorf("%w: %v", ErrRemoteUploadFailed, err),
		)
		return r.enqueue(ctx, event)
	}

	event.Status = state.StatusPersisted
	r.updateLedger(ctx, event.ID, state.StatusPersisted)
	r.logger.Info("Detection uploaded", "event_id", event.ID, "species", event.SpeciesName, "scientific_name", event.ScientificName)
	return OutcomePersisted, nil
}

func (r *Recorder) enqueue(ctx context.Context, event *DetectionEvent) (Outcome, error) {
	// Queue writes must finish even if the caller is shutting down
	if err := r.queue.Enqueue(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Error("Failed to queue detection", "event_id", event.ID, "error", err)
		return "", err
	}
	return OutcomeQueued, nil
}

func (r *Recorder) saveLedger(ctx context.Context, event *DetectionEvent) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.SaveDetection(ctx, event.ledgerRecord()); err != nil {
		r.logger.Warn("Failed to record detection in ledger", "event_id", event.ID, "error", err)
	}
}

func (r *Recorder) updateLedger(ctx context.Context, id string, status state.DetectionStatus) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.UpdateStatus(ctx, id, status, ""); err != nil {
		r.logger.Warn("Failed to update detection in ledger", "event_id", id, "error", err)
	}
}
