package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/punchsync/internal/punch"
)

// UpsertEmployee inserts or replaces an employee record.
func (s *Store) UpsertEmployee(ctx context.Context, e punch.Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, organization_id, name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name            = excluded.name,
			active          = excluded.active
	`, e.ID, e.OrganizationID, e.Name, e.Active)
	if err != nil {
		return fmt.Errorf("upsert employee %d: %w", e.ID, err)
	}
	return nil
}

// Employee looks up an active employee within a tenant.
func (s *Store) Employee(ctx context.Context, organizationID, id int64) (punch.Employee, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, active
		FROM employees
		WHERE id = ? AND organization_id = ? AND active = 1
	`, id, organizationID)
	return scanEmployee(row)
}

// EmployeeAnyTenant looks up an active employee by ID without a tenant filter.
func (s *Store) EmployeeAnyTenant(ctx context.Context, id int64) (punch.Employee, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, active
		FROM employees
		WHERE id = ? AND active = 1
	`, id)
	return scanEmployee(row)
}

func scanEmployee(row *sql.Row) (punch.Employee, bool, error) {
	var e punch.Employee
	err := row.Scan(&e.ID, &e.OrganizationID, &e.Name, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return punch.Employee{}, false, nil
	}
	if err != nil {
		return punch.Employee{}, false, fmt.Errorf("scan employee: %w", err)
	}
	return e, true, nil
}

// UpsertDevice registers a device and the tenant that owns it.
func (s *Store) UpsertDevice(ctx context.Context, d punch.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (serial, organization_id, alias)
		VALUES (?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			organization_id = excluded.organization_id,
			alias           = excluded.alias
	`, d.Serial, d.OrganizationID, d.Alias)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.Serial, err)
	}
	return nil
}

// Device looks up a registered device by serial.
func (s *Store) Device(ctx context.Context, serial string) (punch.Device, bool, error) {
	var d punch.Device
	err := s.db.QueryRowContext(ctx, `
		SELECT serial, organization_id, alias FROM devices WHERE serial = ?
	`, serial).Scan(&d.Serial, &d.OrganizationID, &d.Alias)
	if errors.Is(err, sql.ErrNoRows) {
		return punch.Device{}, false, nil
	}
	if err != nil {
		return punch.Device{}, false, fmt.Errorf("get device %s: %w", serial, err)
	}
	return d, true, nil
}

// Devices returns all registered devices ordered by serial.
func (s *Store) Devices(ctx context.Context) ([]punch.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial, organization_id, alias FROM devices ORDER BY serial COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := []punch.Device{}
	for rows.Next() {
		var d punch.Device
		if err := rows.Scan(&d.Serial, &d.OrganizationID, &d.Alias); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}
