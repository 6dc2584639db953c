package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DetectionStatus is the ledger status of an admitted detection
type DetectionStatus string

const (
	// StatusPending: admitted, not yet accepted by the remote store
	StatusPending DetectionStatus = "pending"
	// StatusPersisted: accepted by the remote store
	StatusPersisted DetectionStatus = "persisted"
	// StatusArchived: dropped from the queue (image missing), kept here only
	StatusArchived DetectionStatus = "archived"
)

// DetectionRecord is one ledger row
type DetectionRecord struct {
	ID             string
	SpeciesName    string
	ScientificName string
	Confidence     float64
	ImagePath      string
	Status         DetectionStatus
	Detail         string
	CapturedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DrainRecord is the outcome of one queue drain cycle
type DrainRecord struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Uploaded   int
	Skipped    int
	Remaining  int
	Error      string
}

// SaveDetection inserts a detection, or updates its status if it exists
func (m *Manager) SaveDetection(ctx context.Context, rec DetectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Status == "" {
		rec.Status = StatusPending
	}
	var capturedAt interface{}
	if !rec.CapturedAt.IsZero() {
		capturedAt = rec.CapturedAt
	}

	query := `
		INSERT INTO detections (id, species_name, scientific_name, confidence, image_path, status, detail, captured_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			detail = excluded.detail,
			captured_at = COALESCE(excluded.captured_at, captured_at),
			updated_at = excluded.updated_at
	`
	_, err := m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.SpeciesName, rec.ScientificName, rec.Confidence, rec.ImagePath,
		string(rec.Status), rec.Detail, capturedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save detection: %w", err)
	}
	return nil
}

// UpdateStatus moves a detection to a new status. Unknown ids are ignored so
// records enqueued before the ledger existed drain cleanly.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status DetectionStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE detections SET status = ?, detail = ?, updated_at = ? WHERE id = ?`,
		string(status), detail, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update detection status: %w", err)
	}
	return nil
}

// GetDetection returns a detection by id, nil when absent
func (m *Manager) GetDetection(ctx context.Context, id string) (*DetectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx, `
		SELECT id, species_name, scientific_name, confidence, image_path, status, detail, captured_at, created_at, updated_at
		FROM detections WHERE id = ?`, id)

	rec, err := scanDetection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return rec, nil
}

// ListDetections returns the newest detections with the given status, or of
// any status when status is empty
func (m *Manager) ListDetections(ctx context.Context, status DetectionStatus, limit int) ([]DetectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, species_name, scientific_name, confidence, image_path, status, detail, captured_at, created_at, updated_at
		FROM detections
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := m.db.GetDB().QueryContext(ctx, query, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var out []DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of detections per status
func (m *Manager) CountByStatus(ctx context.Context) (map[DetectionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT status, COUNT(*) FROM detections GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := map[DetectionStatus]int{
		StatusPending:   0,
		StatusPersisted: 0,
		StatusArchived:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[DetectionStatus(status)] = n
	}
	return counts, rows.Err()
}

// SaveDrain records a drain cycle
func (m *Manager) SaveDrain(ctx context.Context, rec DrainRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx, `
		INSERT INTO drains (started_at, finished_at, uploaded, skipped, remaining, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StartedAt, rec.FinishedAt, rec.Uploaded, rec.Skipped, rec.Remaining, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save drain: %w", err)
	}
	return nil
}

// LastDrain returns the most recent drain cycle, nil when none ran yet
func (m *Manager) LastDrain(ctx context.Context) (*DrainRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rec DrainRecord
	var errText sql.NullString
	err := m.db.GetDB().QueryRowContext(ctx, `
		SELECT started_at, finished_at, uploaded, skipped, remaining, error
		FROM drains ORDER BY id DESC LIMIT 1`,
	).Scan(&rec.StartedAt, &rec.FinishedAt, &rec.Uploaded, &rec.Skipped, &rec.Remaining, &errText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last drain: %w", err)
	}
	rec.Error = errText.String
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDetection(row rowScanner) (*DetectionRecord, error) {
	var rec DetectionRecord
	var status string
	var imagePath, detail sql.NullString
	var capturedAt sql.NullTime
	if err := row.Scan(
		&rec.ID, &rec.SpeciesName, &rec.ScientificName, &rec.Confidence, &imagePath,
		&status, &detail, &capturedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = DetectionStatus(status)
	rec.ImagePath = imagePath.String
	rec.Detail = detail.String
	if capturedAt.Valid {
		rec.CapturedAt = capturedAt.Time
	}
	return &rec, nil
}
