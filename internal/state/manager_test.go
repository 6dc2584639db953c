package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	mgr, err := NewManager(filepath.Join(t.TempDir(), "db", "ledger.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}

func TestNewManager(t *testing.T) {
	mgr := setupTestManager(t)

	if mgr.GetDB() == nil {
		t.Fatal("Database should be initialized")
	}
	if err := mgr.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestManager_SystemState(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	value, err := mgr.GetSystemState(ctx, "last_online_at")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty string for unset key, got '%s'", value)
	}

	if err := mgr.SaveSystemState(ctx, "last_online_at", "a"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "last_online_at", "b"); err != nil {
		t.Fatalf("SaveSystemState update failed: %v", err)
	}

	value, _ = mgr.GetSystemState(ctx, "last_online_at")
	if value != "b" {
		t.Errorf("Expected 'b', got '%s'", value)
	}
}

func TestManager_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	mgr, err := NewManager(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := mgr.SaveDetection(ctx, DetectionRecord{ID: "d1", SpeciesName: "ant", ScientificName: "Formicidae", Confidence: 91}); err != nil {
		t.Fatalf("SaveDetection failed: %v", err)
	}
	mgr.Close()

	mgr, err = NewManager(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer mgr.Close()

	rec, err := mgr.GetDetection(ctx, "d1")
	if err != nil || rec == nil {
		t.Fatalf("Detection not recovered after reopen: %v", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("Expected status %s, got %s", StatusPending, rec.Status)
	}
}
