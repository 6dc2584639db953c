package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// Uploader delivers one event to the remote store in a single attempt
type Uploader interface {
	Upload(ctx context.Context, event *DetectionEvent) error
}

// Ledger records where each detection ended up. Ledger failures are logged
// and never fail a queue operation.
type Ledger interface {
	SaveDetection(ctx context.Context, rec state.DetectionRecord) error
	UpdateStatus(ctx context.Context, id string, status state.DetectionStatus, detail string) error
	SaveDrain(ctx context.Context, rec state.DrainRecord) error
}

// Queue is the local store-and-forward file. Every read-modify-write of the
// file happens under one mutex, and the file is only ever replaced through a
// temp file and rename.
//
// Known boundary: a crash after records were uploaded but before the file is
// removed leaves those records in place, and the next drain uploads them
// again.
type Queue struct {
	path    string
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *logger.Logger
	mu      sync.Mutex
}

// QueueConfig contains configuration for the event queue
type QueueConfig struct {
	Path    string
	Ledger  Ledger           // optional
	Metrics *metrics.Metrics // optional
}

// DrainResult summarizes one drain cycle
type DrainResult struct {
	Uploaded  int
	Skipped   int
	Remaining int  // records still in the file afterwards
	Removed   bool // the file was deleted
}

// NewQueue creates a new event queue
func NewQueue(config QueueConfig, log *logger.Logger) *Queue {
	return &Queue{
		path:    config.Path,
		ledger:  config.Ledger,
		metrics: config.Metrics,
		logger:  log,
	}
}

// Path returns the queue file path
func (q *Queue) Path() string {
	return q.path
}

// Enqueue appends an event to the queue file. A corrupt file is replaced by
// a new sequence holding only this event.
func (q *Queue) Enqueue(ctx context.Context, event *DetectionEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	records, _, err := q.load()
	if err != nil {
		return err
	}

	stored := event.Clone()
	stored.Status = state.StatusPending
	records = append(records, stored)

	if err := q.write(records); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}

	q.metrics.RecordQueued()
	q.metrics.SetQueueDepth(len(records))
	q.saveLedger(ctx, stored)

	q.logger.Debug("Event queued", "event_id", event.ID, "species", event.SpeciesName, "depth", len(records))
	return nil
}

// Drain uploads every queued event through up. An event whose image cannot be
// read is skipped and archived. The first upload failure aborts the drain and
// leaves the file exactly as it was. The file is deleted once at least one
// event was delivered and none failed; a file holding only unreadable events
// is kept for inspection.
//
// Ledger statuses change only once the file is removed. Records of an aborted
// drain or of a kept file stay pending, since they are still queued.
func (q *Queue) Drain(ctx context.Context, up Uploader) (DrainResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result DrainResult
	records, exists, err := q.load()
	if err != nil {
		return result, err
	}
	if !exists {
		return result, nil
	}

	started := time.Now()
	q.logger.Info("Draining event queue", "records", len(records))

	var uploaded []string
	skipped := make(map[string]string)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			result.Remaining = len(records)
			q.finishDrain(ctx, started, result, err)
			return result, err
		}

		resolved, err := rec.ResolveImage()
		if err != nil {
			result.Skipped++
			q.logger.Warn("Skipping queued event", "event_id", rec.ID, "species", rec.SpeciesName, "error", err)
			skipped[rec.ID] = err.Error()
			continue
		}

		uploadStart := time.Now()
		err = up.Upload(ctx, resolved)
		q.metrics.RecordUpload(time.Since(uploadStart), err)
		if err != nil {
			result.Remaining = len(records)
			err = fmt.Errorf("%w: event %s: %v", ErrRemoteUploadFailed, rec.ID, err)
			q.finishDrain(ctx, started, result, err)
			return result, err
		}

		result.Uploaded++
		uploaded = append(uploaded, rec.ID)
	}

	if result.Uploaded == 0 && result.Skipped > 0 {
		result.Remaining = len(records)
		q.logger.Warn("Queue holds only events with missing images, keeping file", "records", len(records))
		q.finishDrain(ctx, started, result, nil)
		return result, nil
	}

	if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Remaining = len(records)
		err = fmt.Errorf("failed to remove drained queue file: %w", err)
		q.finishDrain(ctx, started, result, err)
		return result, err
	}
	result.Removed = true

	for _, id := range uploaded {
		q.updateLedger(ctx, id, state.StatusPersisted, "")
	}
	for id, detail := range skipped {
		q.updateLedger(ctx, id, state.StatusArchived, detail)
	}

	q.finishDrain(ctx, started, result, nil)
	return result, nil
}

// Len returns the number of queued events
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, _, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// List returns copies of the queued events in file order
func (q *Queue) List(ctx context.Context) ([]*DetectionEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, _, err := q.load()
	if err != nil {
		return nil, err
	}
	out := make([]*DetectionEvent, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out, nil
}

// load reads the queue file. Must be called with q.mu held. A corrupt file is
// reported as existing with no records.
func (q *Queue) load() ([]*DetectionEvent, bool, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read queue file: %w", err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		q.metrics.RecordCorruptQueue()
		q.logger.Warn("Queue file unreadable, treating as empty", "path", q.path, "error", err)
		return nil, true, nil
	}
	for _, r := range records {
		r.Status = state.StatusPending
	}
	return records, true, nil
}

// decodeRecords accepts a JSON array of events, or a single event object
func decodeRecords(data []byte) ([]*DetectionEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrQueueCorrupt)
	}

	switch trimmed[0] {
	case '[':
		var records []*DetectionEvent
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
		}
		out := records[:0]
		for _, r := range records {
			if r != nil {
				out = append(out, r)
			}
		}
		return out, nil
	case '{':
		var record DetectionEvent
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
		}
		return []*DetectionEvent{&record}, nil
	default:
		return nil, fmt.Errorf("%w: not a JSON array", ErrQueueCorrupt)
	}
}

// write replaces the queue file atomically. Must be called with q.mu held.
func (q *Queue) write(records []*DetectionEvent) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(q.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}

	// Persist the rename itself; not supported everywhere, so best effort
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func (q *Queue) finishDrain(ctx context.Context, started time.Time, result DrainResult, err error) {
	q.metrics.RecordDrain(result.Uploaded, result.Skipped, err)
	q.metrics.SetQueueDepth(result.Remaining)

	if err != nil {
		q.logger.Warn("Queue drain aborted",
			"uploaded", result.Uploaded,
			"skipped", result.Skipped,
			"remaining", result.Remaining,
			"error", err,
		)
	} else {
		q.logger.Info("Queue drain finished",
			"uploaded", result.Uploaded,
			"skipped", result.Skipped,
			"remaining", result.Remaining,
			"removed", result.Removed,
		)
	}

	if q.ledger == nil {
		return
	}
	rec := state.DrainRecord{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Uploaded:   result.Uploaded,
		Skipped:    result.Skipped,
		Remaining:  result.Remaining,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if lerr := q.ledger.SaveDrain(context.WithoutCancel(ctx), rec); lerr != nil {
		q.logger.Warn("Failed to record drain in ledger", "error", lerr)
	}
}

func (q *Queue) saveLedger(ctx context.Context, event *DetectionEvent) {
	if q.ledger == nil {
		return
	}
	if err := q.ledger.SaveDetection(ctx, event.ledgerRecord()); err != nil {
		q.logger.Warn("Failed to record detection in ledger", "event_id", event.ID, "error", err)
	}
}

func (q *Queue) updateLedger(ctx context.Context, id string, status state.DetectionStatus, detail string) {
	if q.ledger == nil {
		return
	}
	if err := q.ledger.UpdateStatus(ctx, id, status, detail); err != nil {
		q.logger.Warn("Failed to update detection in ledger", "event_id", id, "error", err)
	}
}
