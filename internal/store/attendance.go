package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/punchsync/internal/punch"
)

const dayColumns = `id, employee_id, organization_id, work_date, status,
	arrival_time, departure_time, lunch_start, lunch_end,
	break_seconds, worked_seconds, source, attendance_type, field_location,
	device_serial, verify_method, raw_payload, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// LoadDay reads the attendance day for (employee, date) inside the transaction.
func (t *Tx) LoadDay(ctx context.Context, employeeID int64, date punch.Date) (punch.AttendanceDay, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+dayColumns+` FROM attendance_days
		WHERE employee_id = ? AND work_date = ?
	`, employeeID, string(date))
	return scanDayRow(row)
}

// SaveDay inserts or rewrites the attendance day. The caller owns Version
// and UpdatedAt; SaveDay stamps UpdatedAt with the transaction time when unset.
func (t *Tx) SaveDay(ctx context.Context, day punch.AttendanceDay) error {
	if day.UpdatedAt.IsZero() {
		day.UpdatedAt = t.now
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance_days (`+dayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status          = excluded.status,
			arrival_time    = excluded.arrival_time,
			departure_time  = excluded.departure_time,
			lunch_start     = excluded.lunch_start,
			lunch_end       = excluded.lunch_end,
			break_seconds   = excluded.break_seconds,
			worked_seconds  = excluded.worked_seconds,
			source          = excluded.source,
			attendance_type = excluded.attendance_type,
			field_location  = excluded.field_location,
			device_serial   = excluded.device_serial,
			verify_method   = excluded.verify_method,
			raw_payload     = excluded.raw_payload,
			version         = excluded.version,
			updated_at      = excluded.updated_at
	`,
		day.ID,
		day.EmployeeID,
		day.OrganizationID,
		string(day.Date),
		string(day.Status),
		nullClock(day.Arrival),
		nullClock(day.Departure),
		nullClock(day.LunchStart),
		nullClock(day.LunchEnd),
		day.BreakSeconds,
		nullInt(day.WorkedSeconds),
		string(day.Source),
		string(day.Type),
		day.FieldLocation,
		day.DeviceSerial,
		string(day.VerifyMethod),
		day.RawPayload,
		day.Version,
		formatTime(day.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save day (employee=%d, date=%s): %w", day.EmployeeID, day.Date, err)
	}
	return nil
}

// Now returns the transaction's wall-clock stamp.
func (t *Tx) Now() time.Time {
	return t.now
}

// Day reads the attendance day for (employee, date).
func (s *Store) Day(ctx context.Context, employeeID int64, date punch.Date) (punch.AttendanceDay, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+dayColumns+` FROM attendance_days
		WHERE employee_id = ? AND work_date = ?
	`, employeeID, string(date))
	return scanDayRow(row)
}

// DaysForDate lists a tenant's attendance days for a date ordered by employee.
func (s *Store) DaysForDate(ctx context.Context, organizationID int64, date punch.Date) ([]punch.AttendanceDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dayColumns+` FROM attendance_days
		WHERE organization_id = ? AND work_date = ?
		ORDER BY employee_id ASC
	`, organizationID, string(date))
	if err != nil {
		return nil, fmt.Errorf("query days: %w", err)
	}
	defer rows.Close()

	days := []punch.AttendanceDay{}
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate days: %w", err)
	}
	return days, nil
}

func scanDayRow(row *sql.Row) (punch.AttendanceDay, bool, error) {
	day, err := scanDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return punch.AttendanceDay{}, false, nil
	}
	if err != nil {
		return punch.AttendanceDay{}, false, err
	}
	return day, true, nil
}

func scanDay(row rowScanner) (punch.AttendanceDay, error) {
	var (
		day                                      punch.AttendanceDay
		date, status, source, typ, verify, upd   string
		arrival, departure, lunchStart, lunchEnd sql.NullString
		worked                                   sql.NullInt64
	)
	err := row.Scan(
		&day.ID,
		&day.EmployeeID,
		&day.OrganizationID,
		&date,
		&status,
		&arrival,
		&departure,
		&lunchStart,
		&lunchEnd,
		&day.BreakSeconds,
		&worked,
		&source,
		&typ,
		&day.FieldLocation,
		&day.DeviceSerial,
		&verify,
		&day.RawPayload,
		&day.Version,
		&upd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return punch.AttendanceDay{}, err
	}
	if err != nil {
		return punch.AttendanceDay{}, fmt.Errorf("scan day: %w", err)
	}

	day.Date = punch.Date(date)
	day.Status = punch.Status(status)
	day.Source = punch.Source(source)
	day.Type = punch.AttendanceType(typ)
	day.VerifyMethod = punch.VerifyMethod(verify)

	for _, f := range []struct {
		src sql.NullString
		dst **punch.TimeOfDay
	}{
		{arrival, &day.Arrival},
		{departure, &day.Departure},
		{lunchStart, &day.LunchStart},
		{lunchEnd, &day.LunchEnd},
	} {
		if !f.src.Valid {
			continue
		}
		tod, err := punch.ParseTimeOfDay(f.src.String)
		if err != nil {
			return punch.AttendanceDay{}, fmt.Errorf("scan day: %w", err)
		}
		*f.dst = tod.Ptr()
	}
	if worked.Valid {
		w := worked.Int64
		day.WorkedSeconds = &w
	}
	if day.UpdatedAt, err = parseTime(upd); err != nil {
		return punch.AttendanceDay{}, fmt.Errorf("scan day: updated_at: %w", err)
	}
	return day, nil
}

func nullClock(t *punch.TimeOfDay) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}
