package events

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// mockUploader records every upload and lets tests script failures
type mockUploader struct {
	mock.Mock
	mu       sync.Mutex
	uploaded []*DetectionEvent
}

func (m *mockUploader) Upload(ctx context.Context, event *DetectionEvent) error {
	args := m.Called(ctx, event)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.uploaded = append(m.uploaded, event)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockUploader) received() []*DetectionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*DetectionEvent(nil), m.uploaded...)
}

type fakeProbe struct {
	online bool
	calls  int
}

func (p *fakeProbe) IsOnline(ctx context.Context, timeout time.Duration) bool {
	p.calls++
	return p.online
}

func setupTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	dir := t.TempDir()
	q := NewQueue(QueueConfig{Path: filepath.Join(dir, "holding_species.json")}, logger.NewNopLogger())
	return q, dir
}

// writeImage creates a small image file and returns its path
func writeImage(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func newTestEvent(species, imagePath string) *DetectionEvent {
	e := NewDetectionEvent(species, "", 92, imagePath)
	e.CapturedAt = CapturedAt{Date: "2026-06-01", Time: "10:00:00"}
	return e
}
