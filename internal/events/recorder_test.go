package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

var fixedClock = func() time.Time {
	return time.Date(2026, 6, 1, 14, 30, 5, 0, time.Local)
}

func setupTestRecorder(t *testing.T, online bool) (*Recorder, *Queue, *mockUploader, *fakeProbe, string) {
	t.Helper()
	q, dir := setupTestQueue(t)
	up := &mockUploader{}
	probe := &fakeProbe{online: online}
	r := NewRecorder(RecorderConfig{
		Queue: q,
		Sink:  up,
		Probe: probe,
		Clock: fixedClock,
	}, logger.NewNopLogger())
	return r, q, up, probe, dir
}

func TestRecorder_OfflineQueues(t *testing.T) {
	r, q, up, probe, dir := setupTestRecorder(t, false)
	ctx := context.Background()

	e := NewDetectionEvent("Box Tree Moth", "Cydalima perspectalis", 92, filepath.Join(dir, "missing.jpg"))
	outcome, err := r.Record(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, 1, probe.calls)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2026-06-01", list[0].CapturedAt.Date)
	assert.Equal(t, "14:30:05", list[0].CapturedAt.Time)
	assert.Equal(t, UnknownSnapshot(), list[0].Sensor)
	assert.Equal(t, filepath.Join(dir, "missing.jpg"), list[0].Image.Path)
	up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestRecorder_OnlineDrainsFirstThenUploads(t *testing.T) {
	r, q, up, _, dir := setupTestRecorder(t, true)
	ctx := context.Background()

	queued := newTestEvent("ant", writeImage(t, dir, "old.jpg", []byte("old")))
	require.NoError(t, q.Enqueue(ctx, queued))

	var order []string
	up.On("Upload", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).(*DetectionEvent).ID)
	})

	fresh := NewDetectionEvent("ladybug", "Coccinellidae", 81, writeImage(t, dir, "new.jpg", []byte("new")))
	outcome, err := r.Record(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, outcome)
	assert.Equal(t, state.StatusPersisted, fresh.Status)

	assert.Equal(t, []string{queued.ID, fresh.ID}, order)
	n, _ := q.Len(ctx)
	assert.Equal(t, 0, n)

	// The caller's event keeps its path; only the uploaded copy is encoded
	assert.Equal(t, filepath.Join(dir, "new.jpg"), fresh.Image.Path)
}

func TestRecorder_UploadFailureQueues(t *testing.T) {
	r, q, up, _, dir := setupTestRecorder(t, true)
	ctx := context.Background()

	up.On("Upload", mock.Anything, mock.Anything).Return(errors.New("server selection timeout"))

	e := NewDetectionEvent("ant", "Formicidae", 77, writeImage(t, dir, "a.jpg", []byte("a")))
	outcome, err := r.Record(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)
	assert.False(t, list[0].Image.Resolved(), "queued records keep the path reference")
}

func TestRecorder_OnlineMissingImageQueues(t *testing.T) {
	r, q, up, _, dir := setupTestRecorder(t, true)
	ctx := context.Background()

	e := NewDetectionEvent("ant", "Formicidae", 77, filepath.Join(dir, "nope.jpg"))
	outcome, err := r.Record(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)

	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestRecorder_DrainFailureStillTriesFreshUpload(t *testing.T) {
	r, q, up, _, dir := setupTestRecorder(t, true)
	ctx := context.Background()

	old := newTestEvent("ant", writeImage(t, dir, "old.jpg", []byte("old")))
	require.NoError(t, q.Enqueue(ctx, old))

	up.On("Upload", mock.Anything, mock.MatchedBy(func(e *DetectionEvent) bool { return e.ID == old.ID })).
		Return(errors.New("duplicate key"))
	up.On("Upload", mock.Anything, mock.Anything).Return(nil)

	fresh := NewDetectionEvent("ladybug", "Coccinellidae", 90, writeImage(t, dir, "new.jpg", []byte("new")))
	outcome, err := r.Record(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, outcome)

	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n, "the failed drain leaves the old record queued")
}

func TestRecorder_Ledger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := state.NewManager(filepath.Join(dir, "ledger.db"), logger.NewNopLogger())
	require.NoError(t, err)
	defer ledger.Close()

	q := NewQueue(QueueConfig{Path: filepath.Join(dir, "q.json"), Ledger: ledger}, logger.NewNopLogger())
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.Anything).Return(nil)
	r := NewRecorder(RecorderConfig{
		Queue:  q,
		Sink:   up,
		Probe:  &fakeProbe{online: true},
		Ledger: ledger,
		Clock:  fixedClock,
	}, logger.NewNopLogger())

	ctx := context.Background()
	e := NewDetectionEvent("ant", "Formicidae", 88, writeImage(t, dir, "a.jpg", []byte("a")))
	_, err = r.Record(ctx, e)
	require.NoError(t, err)

	rec, err := ledger.GetDetection(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, state.StatusPersisted, rec.Status)
	assert.True(t, rec.CapturedAt.Equal(fixedClock()))
}
