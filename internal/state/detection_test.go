package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_DetectionStatusTransitions(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.SaveDetection(ctx, DetectionRecord{
		ID:             "evt-1",
		SpeciesName:    "box tree moth",
		ScientificName: "Cydalima perspectalis",
		Confidence:     88.5,
		ImagePath:      "/data/images/frame_0001.jpg",
	}))

	rec, err := mgr.GetDetection(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "Cydalima perspectalis", rec.ScientificName)
	assert.InDelta(t, 88.5, rec.Confidence, 0.001)
	assert.True(t, rec.CapturedAt.IsZero())

	captured := time.Date(2026, 6, 1, 14, 3, 9, 0, time.UTC)
	require.NoError(t, mgr.SaveDetection(ctx, DetectionRecord{
		ID:             "evt-1",
		SpeciesName:    "box tree moth",
		ScientificName: "Cydalima perspectalis",
		Status:         StatusPending,
		CapturedAt:     captured,
	}))

	require.NoError(t, mgr.UpdateStatus(ctx, "evt-1", StatusArchived, "image missing"))

	rec, err = mgr.GetDetection(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, rec.Status)
	assert.Equal(t, "image missing", rec.Detail)
	assert.True(t, rec.CapturedAt.Equal(captured))
	assert.InDelta(t, 88.5, rec.Confidence, 0.001, "upsert must not overwrite the original row")
}

func TestManager_UpdateStatus_UnknownID(t *testing.T) {
	mgr := setupTestManager(t)

	assert.NoError(t, mgr.UpdateStatus(context.Background(), "never-seen", StatusPersisted, ""))
}

func TestManager_GetDetection_Missing(t *testing.T) {
	mgr := setupTestManager(t)

	rec, err := mgr.GetDetection(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestManager_ListAndCount(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	for i, status := range []DetectionStatus{StatusPending, StatusPersisted, StatusPersisted, StatusArchived} {
		require.NoError(t, mgr.SaveDetection(ctx, DetectionRecord{
			ID:             string(rune('a' + i)),
			SpeciesName:    "ant",
			ScientificName: "Formicidae",
			Confidence:     75,
			Status:         status,
		}))
	}

	counts, err := mgr.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 2, counts[StatusPersisted])
	assert.Equal(t, 1, counts[StatusArchived])

	persisted, err := mgr.ListDetections(ctx, StatusPersisted, 10)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	all, err := mgr.ListDetections(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID, "newest first")
}

func TestManager_Drains(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	last, err := mgr.LastDrain(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Now().Add(-time.Second)
	require.NoError(t, mgr.SaveDrain(ctx, DrainRecord{StartedAt: start, FinishedAt: start, Uploaded: 2, Skipped: 1}))
	require.NoError(t, mgr.SaveDrain(ctx, DrainRecord{
		StartedAt:  start,
		FinishedAt: time.Now(),
		Uploaded:   1,
		Remaining:  3,
		Error:      errors.New("remote upload failed").Error(),
	}))

	last, err = mgr.LastDrain(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Uploaded)
	assert.Equal(t, 3, last.Remaining)
	assert.Equal(t, "remote upload failed", last.Error)
}
