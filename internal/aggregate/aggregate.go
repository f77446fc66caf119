package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/punchsync/internal/classify"
	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
)

// ErrDuplicate is returned by Apply when the punch's dedup key was already
// applied. The day is unchanged.
var ErrDuplicate = errors.New("duplicate transaction")

// Punch is a resolved, admitted transaction ready to apply.
type Punch struct {
	Employee    punch.Employee
	Date        punch.Date
	Transaction punch.RawTransaction
	DedupKey    string
}

// Applied is the result of a successful Apply.
type Applied struct {
	Day  punch.AttendanceDay
	Kind punch.Kind
	Rule classify.Rule
	// Changed is false when the punch matched the boundary it would have
	// overwritten. The dedup key is still recorded.
	Changed bool
}

// Aggregator applies punches and manual entries to attendance days.
type Aggregator struct {
	store  *store.Store
	locks  *dayLocks
	ids    IDGenerator
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithIDGenerator overrides the day ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Aggregator) {
		a.ids = g
	}
}

// WithLogger sets the logger used for apply diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// New creates an Aggregator over s.
func New(s *store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  s,
		locks:  newDayLocks(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply classifies p against the stored day and persists the result.
func (a *Aggregator) Apply(ctx context.Context, p Punch) (Applied, error) {
	if p.Employee.ID <= 0 {
		return Applied{}, fmt.Errorf("apply punch: employee is required")
	}
	if p.Date == "" {
		return Applied{}, fmt.Errorf("apply punch: date is required")
	}
	if p.DedupKey == "" {
		return Applied{}, fmt.Errorf("apply punch: dedup key is required")
	}

	unlock := a.locks.lock(p.Employee.ID, p.Date)
	defer unlock()

	var out Applied
	err := a.store.WithTx(ctx, func(tx *store.Tx) error {
		day, found, err := tx.LoadDay(ctx, p.Employee.ID, p.Date)
		if err != nil {
			return err
		}

		var snapshot *punch.AttendanceDay
		if found {
			snapshot = &day
		} else {
			day = punch.AttendanceDay{
				ID:             a.ids.Generate(),
				EmployeeID:     p.Employee.ID,
				OrganizationID: p.Employee.OrganizationID,
				Date:           p.Date,
				Source:         punch.SourceBiometric,
				Type:           punch.TypeOffice,
			}
		}
		decision := classify.Classify(p.Transaction, snapshot)

		claimed, err := tx.ClaimDedupKey(ctx, store.DedupRecord{
			Key:          p.DedupKey,
			EmployeeID:   p.Employee.ID,
			Date:         p.Date,
			DeviceSerial: p.Transaction.DeviceSerial,
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrDuplicate
		}

		out = Applied{Kind: decision.Kind, Rule: decision.Rule, Day: day}

		// A punch at an already recorded boundary is a redelivery, whichever
		// boundary the classifier would have aimed it at.
		at := punch.ClockOf(p.Transaction.PunchTimestamp)
		if onBoundary(day.Arrival, at) || onBoundary(day.Departure, at) {
			return nil
		}
		if decision.Kind == punch.Departure {
			day.Departure = at.Ptr()
		} else {
			day.Arrival = at.Ptr()
		}

		day.Source = punch.SourceBiometric
		day.DeviceSerial = p.Transaction.DeviceSerial
		day.VerifyMethod = p.Transaction.VerifyMethod
		if day.VerifyMethod == "" {
			day.VerifyMethod = punch.VerifyFingerprint
		}
		day.RawPayload = p.Transaction.RawPayload
		if day.Status == "" || day.Status == punch.StatusAbsent {
			day.Status = punch.StatusPresent
		}
		recompute(&day)
		day.Version++
		day.UpdatedAt = tx.Now()

		if err := tx.SaveDay(ctx, day); err != nil {
			return err
		}
		out.Day = day
		out.Changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Applied{}, err
		}
		return Applied{}, fmt.Errorf("apply punch (employee=%d, date=%s): %w", p.Employee.ID, p.Date, err)
	}

	a.logger.Debug("punch applied",
		"employee_id", p.Employee.ID,
		"date", string(p.Date),
		"kind", out.Kind.String(),
		"rule", out.Rule.String(),
		"changed", out.Changed,
		"version", out.Day.Version,
	)
	return out, nil
}

// Day returns the stored day for (employee, date).
func (a *Aggregator) Day(ctx context.Context, employeeID int64, date punch.Date) (punch.AttendanceDay, bool, error) {
	return a.store.Day(ctx, employeeID, date)
}

func onBoundary(boundary *punch.TimeOfDay, at punch.TimeOfDay) bool {
	return boundary != nil && *boundary == at
}

// recompute derives BreakSeconds and WorkedSeconds from the day's boundaries.
// A recorded lunch interval replaces BreakSeconds. WorkedSeconds is nil when
// either boundary is missing or the departure precedes the arrival.
func recompute(day *punch.AttendanceDay) {
	if day.LunchStart != nil && day.LunchEnd != nil && day.LunchStart.Before(*day.LunchEnd) {
		day.BreakSeconds = int64(day.LunchEnd.Sub(*day.LunchStart).Seconds())
	}

	if day.Arrival == nil || day.Departure == nil || day.Departure.Before(*day.Arrival) {
		day.WorkedSeconds = nil
		return
	}

	worked := int64(day.Departure.Sub(*day.Arrival).Seconds()) - day.BreakSeconds
	if worked < 0 {
		worked = 0
	}
	day.WorkedSeconds = &worked
}
