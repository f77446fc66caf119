package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/punchsync/internal/punch"
)

// ErrNotFound is returned by mutations whose target row does not exist.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// bindingOrder makes colliding device-local identifiers resolve
// deterministically: completed enrollments first, then the lowest employee ID.
const bindingOrder = `
	ORDER BY CASE enrollment_status
		WHEN 'COMPLETED' THEN 0
		WHEN 'PENDING'   THEN 1
		ELSE 2
	END ASC, employee_id ASC
	LIMIT 1`

const bindingColumns = `employee_id, organization_id, device_serial, device_local_employee_id,
	device_local_code, enrollment_status, fingerprint_enrolled`

// UpsertBinding inserts or replaces the binding for (employee, device).
func (s *Store) UpsertBinding(ctx context.Context, b punch.Binding) error {
	return upsertBinding(ctx, s.db, b, formatTime(s.now()))
}

func upsertBinding(ctx context.Context, q querier, b punch.Binding, updatedAt string) error {
	status := b.EnrollmentStatus
	if status == "" {
		status = punch.EnrollmentPending
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO device_bindings (`+bindingColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, device_serial) DO UPDATE SET
			organization_id          = excluded.organization_id,
			device_local_employee_id = excluded.device_local_employee_id,
			device_local_code        = excluded.device_local_code,
			enrollment_status        = excluded.enrollment_status,
			fingerprint_enrolled     = excluded.fingerprint_enrolled,
			updated_at               = excluded.updated_at
	`,
		b.EmployeeID,
		b.OrganizationID,
		b.DeviceSerial,
		b.DeviceLocalEmployeeID,
		b.DeviceLocalCode,
		string(status),
		b.FingerprintEnrolled,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert binding (employee=%d, device=%s): %w", b.EmployeeID, b.DeviceSerial, err)
	}
	return nil
}

// BindingByCode finds the binding with the given device-local code on a device
// within a tenant.
func (s *Store) BindingByCode(ctx context.Context, organizationID int64, serial, code string) (punch.Binding, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE organization_id = ? AND device_serial = ? AND device_local_code = ?
	`+bindingOrder, organizationID, serial, code)
	return scanBinding(row)
}

// BindingByLocalID finds the binding with the given device-local numeric ID on a
// device within a tenant.
func (s *Store) BindingByLocalID(ctx context.Context, organizationID int64, serial string, localID int64) (punch.Binding, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE organization_id = ? AND device_serial = ? AND device_local_employee_id = ?
	`+bindingOrder, organizationID, serial, localID)
	return scanBinding(row)
}

// Binding returns the binding for (employee, device).
func (s *Store) Binding(ctx context.Context, employeeID int64, serial string) (punch.Binding, bool, error) {
	return bindingFor(ctx, s.db, employeeID, serial)
}

func bindingFor(ctx context.Context, q querier, employeeID int64, serial string) (punch.Binding, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE employee_id = ? AND device_serial = ?
	`, employeeID, serial)
	return scanBinding(row)
}

func scanBinding(row *sql.Row) (punch.Binding, bool, error) {
	var b punch.Binding
	var status string
	err := row.Scan(
		&b.EmployeeID,
		&b.OrganizationID,
		&b.DeviceSerial,
		&b.DeviceLocalEmployeeID,
		&b.DeviceLocalCode,
		&status,
		&b.FingerprintEnrolled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return punch.Binding{}, false, nil
	}
	if err != nil {
		return punch.Binding{}, false, fmt.Errorf("scan binding: %w", err)
	}
	b.EnrollmentStatus = punch.EnrollmentStatus(status)
	return b, true, nil
}

// SetEnrollment records the enrollment outcome for (employee, device).
// Returns ErrNotFound if no such binding exists.
func (s *Store) SetEnrollment(ctx context.Context, employeeID int64, serial string, status punch.EnrollmentStatus, fingerprint bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings
		SET enrollment_status = ?, fingerprint_enrolled = ?, updated_at = ?
		WHERE employee_id = ? AND device_serial = ?
	`, string(status), fingerprint, formatTime(s.now()), employeeID, serial)
	if err != nil {
		return fmt.Errorf("set enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set enrollment: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set enrollment (employee=%d, device=%s): %w", employeeID, serial, ErrNotFound)
	}
	return nil
}

// DeleteBinding removes an employee from a device.
func (s *Store) DeleteBinding(ctx context.Context, employeeID int64, serial string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM device_bindings WHERE employee_id = ? AND device_serial = ?
	`, employeeID, serial)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

// ProvisionRequest describes adding an employee onto a device.
type ProvisionRequest struct {
	EmployeeID   int64
	DeviceSerial string
	// PreferredLocalID is the device-local ID to try first. Zero means the
	// employee ID.
	PreferredLocalID int64
	// CodeSuffix ends the device-local code. Empty means the last four
	// characters of the device serial.
	CodeSuffix string
}

// ProvisionBinding creates the binding for an employee on a device.
//
// When the preferred device-local ID is already bound to a different
// employee on the device, the next unused ID is allocated instead of
// overwriting. An existing binding for the same (employee, device) is
// returned unchanged.
func (s *Store) ProvisionBinding(ctx context.Context, req ProvisionRequest) (punch.Binding, error) {
	var out punch.Binding
	err := s.WithTx(ctx, func(tx *Tx) error {
		var org int64
		err := tx.tx.QueryRowContext(ctx, `
			SELECT organization_id FROM employees WHERE id = ?
		`, req.EmployeeID).Scan(&org)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("provision binding: employee %d: %w", req.EmployeeID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("provision binding: load employee: %w", err)
		}

		var deviceOrg int64
		err = tx.tx.QueryRowContext(ctx, `
			SELECT organization_id FROM devices WHERE serial = ?
		`, req.DeviceSerial).Scan(&deviceOrg)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("provision binding: device %s: %w", req.DeviceSerial, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("provision binding: load device: %w", err)
		}
		if deviceOrg != org {
			return fmt.Errorf("provision binding: employee %d (organization %d) cannot be bound to device %s (organization %d)",
				req.EmployeeID, org, req.DeviceSerial, deviceOrg)
		}

		existing, found, err := bindingFor(ctx, tx.tx, req.EmployeeID, req.DeviceSerial)
		if err != nil {
			return fmt.Errorf("provision binding: %w", err)
		}
		if found {
			out = existing
			return nil
		}

		localID := req.PreferredLocalID
		if localID <= 0 {
			localID = req.EmployeeID
		}
		for {
			var holder int64
			err := tx.tx.QueryRowContext(ctx, `
				SELECT employee_id FROM device_bindings
				WHERE device_serial = ? AND device_local_employee_id = ?
				LIMIT 1
			`, req.DeviceSerial, localID).Scan(&holder)
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			if err != nil {
				return fmt.Errorf("provision binding: check local id %d: %w", localID, err)
			}
			localID++
		}

		out = punch.Binding{
			EmployeeID:            req.EmployeeID,
			OrganizationID:        org,
			DeviceSerial:          req.DeviceSerial,
			DeviceLocalEmployeeID: localID,
			DeviceLocalCode:       LocalCode(org, req.EmployeeID, req.DeviceSerial, req.CodeSuffix),
			EnrollmentStatus:      punch.EnrollmentPending,
		}
		return upsertBinding(ctx, tx.tx, out, formatTime(tx.now))
	})
	if err != nil {
		return punch.Binding{}, err
	}
	return out, nil
}

// LocalCode builds the conventional device-local code
// TENANT{org}_EMP{employee}_{suffix}.
func LocalCode(organizationID, employeeID int64, serial, suffix string) string {
	if suffix == "" {
		suffix = serial
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
	}
	return fmt.Sprintf("TENANT%d_EMP%d_%s", organizationID, employeeID, strings.ToUpper(suffix))
}
