package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/punchsync/internal/punch"
)

func TestBindingByCode_ScopedToTenant(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	b := punch.Binding{
		EmployeeID:            42,
		OrganizationID:        1,
		DeviceSerial:          "X1",
		DeviceLocalEmployeeID: 7,
		DeviceLocalCode:       "A7",
		EnrollmentStatus:      punch.EnrollmentCompleted,
		FingerprintEnrolled:   true,
	}
	if err := s.UpsertBinding(ctx, b); err != nil {
		t.Fatalf("UpsertBinding failed: %v", err)
	}

	got, found, err := s.BindingByCode(ctx, 1, "X1", "A7")
	if err != nil {
		t.Fatalf("BindingByCode failed: %v", err)
	}
	if !found {
		t.Fatal("expected binding to be found")
	}
	if got != b {
		t.Errorf("BindingByCode = %+v, want %+v", got, b)
	}

	_, found, err = s.BindingByCode(ctx, 2, "X1", "A7")
	if err != nil {
		t.Fatalf("BindingByCode failed: %v", err)
	}
	if found {
		t.Error("binding must not be visible from another organization")
	}
}

func TestBindingByLocalID_CollisionPrefersCompleted(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	for _, b := range []punch.Binding{
		{EmployeeID: 41, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 5, EnrollmentStatus: punch.EnrollmentPending},
		{EmployeeID: 43, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 5, EnrollmentStatus: punch.EnrollmentCompleted},
		{EmployeeID: 42, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 5, EnrollmentStatus: punch.EnrollmentFailed},
	} {
		if err := s.UpsertBinding(ctx, b); err != nil {
			t.Fatalf("UpsertBinding(%d) failed: %v", b.EmployeeID, err)
		}
	}

	got, found, err := s.BindingByLocalID(ctx, 1, "X1", 5)
	if err != nil {
		t.Fatalf("BindingByLocalID failed: %v", err)
	}
	if !found {
		t.Fatal("expected binding to be found")
	}
	if got.EmployeeID != 43 {
		t.Errorf("EmployeeID = %d, want 43 (completed enrollment wins)", got.EmployeeID)
	}

	if err := s.SetEnrollment(ctx, 43, "X1", punch.EnrollmentFailed, false); err != nil {
		t.Fatalf("SetEnrollment failed: %v", err)
	}
	got, _, err = s.BindingByLocalID(ctx, 1, "X1", 5)
	if err != nil {
		t.Fatalf("BindingByLocalID failed: %v", err)
	}
	if got.EmployeeID != 41 {
		t.Errorf("EmployeeID = %d, want 41 (pending beats failed)", got.EmployeeID)
	}
}

func TestUpsertBinding_DefaultsToPending(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	if err := s.UpsertBinding(ctx, punch.Binding{EmployeeID: 42, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 42}); err != nil {
		t.Fatalf("UpsertBinding failed: %v", err)
	}
	got, found, err := s.Binding(ctx, 42, "X1")
	if err != nil || !found {
		t.Fatalf("Binding found=%v err=%v", found, err)
	}
	if got.EnrollmentStatus != punch.EnrollmentPending {
		t.Errorf("EnrollmentStatus = %q, want PENDING", got.EnrollmentStatus)
	}
}

func TestSetEnrollment_MissingBinding(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)

	err := s.SetEnrollment(context.Background(), 42, "X1", punch.EnrollmentCompleted, true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEnrollment error = %v, want ErrNotFound", err)
	}
}

func TestDeleteBinding(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	if err := s.UpsertBinding(ctx, punch.Binding{EmployeeID: 42, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 42}); err != nil {
		t.Fatalf("UpsertBinding failed: %v", err)
	}
	if err := s.DeleteBinding(ctx, 42, "X1"); err != nil {
		t.Fatalf("DeleteBinding failed: %v", err)
	}
	if _, found, _ := s.Binding(ctx, 42, "X1"); found {
		t.Error("binding still present after delete")
	}
}

func TestProvisionBinding_AllocatesNextFreeLocalID(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	// Employee 41 already occupies local ID 42 on X1.
	if err := s.UpsertBinding(ctx, punch.Binding{EmployeeID: 41, OrganizationID: 1, DeviceSerial: "X1", DeviceLocalEmployeeID: 42}); err != nil {
		t.Fatalf("UpsertBinding failed: %v", err)
	}

	got, err := s.ProvisionBinding(ctx, ProvisionRequest{EmployeeID: 42, DeviceSerial: "X1"})
	if err != nil {
		t.Fatalf("ProvisionBinding failed: %v", err)
	}
	if got.DeviceLocalEmployeeID != 43 {
		t.Errorf("DeviceLocalEmployeeID = %d, want 43", got.DeviceLocalEmployeeID)
	}
	if got.DeviceLocalCode != "TENANT1_EMP42_X1" {
		t.Errorf("DeviceLocalCode = %q, want TENANT1_EMP42_X1", got.DeviceLocalCode)
	}
	if got.EnrollmentStatus != punch.EnrollmentPending {
		t.Errorf("EnrollmentStatus = %q, want PENDING", got.EnrollmentStatus)
	}

	// The occupant is untouched.
	occupant, _, err := s.Binding(ctx, 41, "X1")
	if err != nil {
		t.Fatalf("Binding failed: %v", err)
	}
	if occupant.DeviceLocalEmployeeID != 42 {
		t.Errorf("occupant local ID = %d, want 42", occupant.DeviceLocalEmployeeID)
	}
}

func TestProvisionBinding_ExistingBindingReturned(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	first, err := s.ProvisionBinding(ctx, ProvisionRequest{EmployeeID: 42, DeviceSerial: "X1", PreferredLocalID: 9})
	if err != nil {
		t.Fatalf("first ProvisionBinding failed: %v", err)
	}
	second, err := s.ProvisionBinding(ctx, ProvisionRequest{EmployeeID: 42, DeviceSerial: "X1", PreferredLocalID: 100})
	if err != nil {
		t.Fatalf("second ProvisionBinding failed: %v", err)
	}
	if first != second {
		t.Errorf("second provision = %+v, want unchanged %+v", second, first)
	}
	if first.DeviceLocalEmployeeID != 9 {
		t.Errorf("DeviceLocalEmployeeID = %d, want 9", first.DeviceLocalEmployeeID)
	}
}

func TestProvisionBinding_RejectsCrossTenantDevice(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)

	if _, err := s.ProvisionBinding(context.Background(), ProvisionRequest{EmployeeID: 42, DeviceSerial: "Y1"}); err == nil {
		t.Error("provisioning onto another tenant's device should fail")
	}
}

func TestProvisionBinding_UnknownEmployee(t *testing.T) {
	s := createTestStore(t)
	seedDirectory(t, s)

	_, err := s.ProvisionBinding(context.Background(), ProvisionRequest{EmployeeID: 7, DeviceSerial: "X1"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ProvisionBinding error = %v, want ErrNotFound", err)
	}
}

func TestLocalCode(t *testing.T) {
	tests := []struct {
		org, emp       int64
		serial, suffix string
		want           string
	}{
		{3, 42, "CQZ7224460348", "", "TENANT3_EMP42_0348"},
		{3, 42, "ab", "", "TENANT3_EMP42_AB"},
		{1, 5, "X1", "hq", "TENANT1_EMP5_HQ"},
	}
	for _, tt := range tests {
		if got := LocalCode(tt.org, tt.emp, tt.serial, tt.suffix); got != tt.want {
			t.Errorf("LocalCode(%d, %d, %q, %q) = %q, want %q", tt.org, tt.emp, tt.serial, tt.suffix, got, tt.want)
		}
	}
}
