package store

import (
	"context"
	"testing"
	"time"
)

func TestSyncCursor_NeverMovesBackwards(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, found, err := s.SyncCursor(ctx, "X1"); err != nil || found {
		t.Fatalf("SyncCursor on empty store: found=%v err=%v", found, err)
	}

	later := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	if err := s.SaveSyncCursor(ctx, "X1", later, "run-1"); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}
	if err := s.SaveSyncCursor(ctx, "X1", earlier, "run-2"); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	c, found, err := s.SyncCursor(ctx, "X1")
	if err != nil {
		t.Fatalf("SyncCursor failed: %v", err)
	}
	if !found {
		t.Fatal("expected cursor")
	}
	if !c.LastPunchAt.Equal(later) {
		t.Errorf("LastPunchAt = %v, want %v", c.LastPunchAt, later)
	}
	if c.LastRunID != "run-2" {
		t.Errorf("LastRunID = %q, want run-2", c.LastRunID)
	}
	if !c.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want %v", c.UpdatedAt, fixedNow)
	}
}
