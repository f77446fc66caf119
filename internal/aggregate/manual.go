package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
)

// ErrInvalidEntry wraps validation failures of a ManualEntry.
var ErrInvalidEntry = errors.New("invalid manual entry")

// ErrUnknownEmployee is returned when a manual entry names an employee that
// does not exist, or is inactive, in the entry's organization.
var ErrUnknownEmployee = errors.New("unknown employee")

// ManualEntry is an operator-supplied attendance record. It replaces the
// day's times, status and field-work details wholesale.
// Times are "15:04" or "15:04:05"; empty means unset.
type ManualEntry struct {
	EmployeeID     int64                `json:"employee_id" yaml:"employee_id" validate:"required,gt=0"`
	OrganizationID int64                `json:"organization_id" yaml:"organization_id" validate:"required,gt=0"`
	Date           punch.Date           `json:"date" yaml:"date" validate:"required,datetime=2006-01-02"`
	Status         punch.Status         `json:"status" yaml:"status" validate:"required,oneof=Present Absent Half-Day 'Week Off' Holiday 'Paid Leave'"`
	Arrival        string               `json:"arrival_time,omitempty" yaml:"arrival_time,omitempty" validate:"omitempty,timeofday"`
	Departure      string               `json:"departure_time,omitempty" yaml:"departure_time,omitempty" validate:"omitempty,timeofday"`
	LunchStart     string               `json:"lunch_start,omitempty" yaml:"lunch_start,omitempty" validate:"omitempty,timeofday"`
	LunchEnd       string               `json:"lunch_end,omitempty" yaml:"lunch_end,omitempty" validate:"omitempty,timeofday"`
	Type           punch.AttendanceType `json:"attendance_type,omitempty" yaml:"attendance_type,omitempty" validate:"omitempty,oneof=OFFICE WORK_FROM_FIELD"`
	FieldLocation  string               `json:"field_location,omitempty" yaml:"field_location,omitempty" validate:"required_if=Type WORK_FROM_FIELD,max=255"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := punch.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks the entry's field constraints.
func (e ManualEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if (e.LunchStart == "") != (e.LunchEnd == "") {
		return fmt.Errorf("%w: lunch_start and lunch_end must be set together", ErrInvalidEntry)
	}
	if e.LunchStart != "" {
		start, _ := punch.ParseTimeOfDay(e.LunchStart)
		end, _ := punch.ParseTimeOfDay(e.LunchEnd)
		if end.Before(start) {
			return fmt.Errorf("%w: lunch_end %s precedes lunch_start %s", ErrInvalidEntry, end, start)
		}
	}
	return nil
}

// ApplyManual writes a manual entry under the same per-day lock and
// transaction discipline as Apply. Biometric provenance is cleared.
func (a *Aggregator) ApplyManual(ctx context.Context, e ManualEntry) (punch.AttendanceDay, error) {
	if err := e.Validate(); err != nil {
		return punch.AttendanceDay{}, err
	}

	emp, found, err := a.store.Employee(ctx, e.OrganizationID, e.EmployeeID)
	if err != nil {
		return punch.AttendanceDay{}, fmt.Errorf("apply manual entry: %w", err)
	}
	if !found {
		return punch.AttendanceDay{}, fmt.Errorf("apply manual entry: employee %d in organization %d: %w",
			e.EmployeeID, e.OrganizationID, ErrUnknownEmployee)
	}

	unlock := a.locks.lock(emp.ID, e.Date)
	defer unlock()

	var out punch.AttendanceDay
	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		day, found, err := tx.LoadDay(ctx, emp.ID, e.Date)
		if err != nil {
			return err
		}
		if !found {
			day = punch.AttendanceDay{
				ID:             a.ids.Generate(),
				EmployeeID:     emp.ID,
				OrganizationID: emp.OrganizationID,
				Date:           e.Date,
			}
		}

		day.Status = e.Status
		day.Arrival = optionalClock(e.Arrival)
		day.Departure = optionalClock(e.Departure)
		day.LunchStart = optionalClock(e.LunchStart)
		day.LunchEnd = optionalClock(e.LunchEnd)
		day.BreakSeconds = 0
		day.Type = e.Type
		if day.Type == "" {
			day.Type = punch.TypeOffice
		}
		day.FieldLocation = ""
		if day.Type == punch.TypeWorkFromField {
			day.FieldLocation = e.FieldLocation
		}
		day.Source = punch.SourceManual
		day.DeviceSerial = ""
		day.VerifyMethod = ""
		day.RawPayload = ""
		recompute(&day)
		day.Version++
		day.UpdatedAt = tx.Now()

		if err := tx.SaveDay(ctx, day); err != nil {
			return err
		}
		out = day
		return nil
	})
	if err != nil {
		return punch.AttendanceDay{}, fmt.Errorf("apply manual entry (employee=%d, date=%s): %w", e.EmployeeID, e.Date, err)
	}

	a.logger.Debug("manual entry applied",
		"employee_id", out.EmployeeID,
		"date", string(out.Date),
		"status", string(out.Status),
		"version", out.Version,
	)
	return out, nil
}

// optionalClock parses a validated time of day; empty is nil.
func optionalClock(s string) *punch.TimeOfDay {
	if s == "" {
		return nil
	}
	t, err := punch.ParseTimeOfDay(s)
	if err != nil {
		return nil
	}
	return t.Ptr()
}
