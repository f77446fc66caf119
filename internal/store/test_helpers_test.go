package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/punchsync/internal/punch"
)

// fixedNow is the wall clock every test store is opened with.
var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDirectory registers organization 1 with device X1 and employees 41..43,
// and organization 2 with device Y1 and employee 90.
func seedDirectory(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []punch.Device{
		{Serial: "X1", OrganizationID: 1, Alias: "front door"},
		{Serial: "Y1", OrganizationID: 2},
	} {
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("UpsertDevice(%s) failed: %v", d.Serial, err)
		}
	}
	for _, e := range []punch.Employee{
		{ID: 41, OrganizationID: 1, Name: "Ana", Active: true},
		{ID: 42, OrganizationID: 1, Name: "Ben", Active: true},
		{ID: 43, OrganizationID: 1, Name: "Cyd", Active: true},
		{ID: 90, OrganizationID: 2, Name: "Dee", Active: true},
	} {
		if err := s.UpsertEmployee(ctx, e); err != nil {
			t.Fatalf("UpsertEmployee(%d) failed: %v", e.ID, err)
		}
	}
}

// createTestDay builds a biometric day for employee 42 on 2024-03-01.
func createTestDay(id string) punch.AttendanceDay {
	return punch.AttendanceDay{
		ID:             id,
		EmployeeID:     42,
		OrganizationID: 1,
		Date:           "2024-03-01",
		Status:         punch.StatusPresent,
		Source:         punch.SourceBiometric,
		Type:           punch.TypeOffice,
		Version:        1,
	}
}
