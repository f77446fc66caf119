// Package notify delivers post-update attendance events to listeners.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/punchsync/internal/punch"
)

// Event describes one successful apply.
type Event struct {
	EmployeeID     int64            `json:"employee_id"`
	OrganizationID int64            `json:"organization_id"`
	Date           punch.Date       `json:"date"`
	Punch          string           `json:"punch"`
	Arrival        *punch.TimeOfDay `json:"-"`
	Departure      *punch.TimeOfDay `json:"-"`
	ArrivalTime    string           `json:"arrival_time,omitempty"`
	DepartureTime  string           `json:"departure_time,omitempty"`
	Source         punch.Source     `json:"source"`
	DeviceSerial   string           `json:"device_serial,omitempty"`
	Version        int64            `json:"version"`
}

// EventFor builds the event for a day after a punch of kind k.
func EventFor(day punch.AttendanceDay, k punch.Kind) Event {
	e := Event{
		EmployeeID:     day.EmployeeID,
		OrganizationID: day.OrganizationID,
		Date:           day.Date,
		Punch:          k.String(),
		Arrival:        day.Arrival,
		Departure:      day.Departure,
		Source:         day.Source,
		DeviceSerial:   day.DeviceSerial,
		Version:        day.Version,
	}
	if day.Arrival != nil {
		e.ArrivalTime = day.Arrival.String()
	}
	if day.Departure != nil {
		e.DepartureTime = day.Departure.String()
	}
	return e
}

// Notifier receives events. Implementations must not block for long; the
// pipeline calls Notify on its worker goroutine.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers e to each notifier in order.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each event as a structured log line.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify logs e at info level.
func (l *Log) Notify(ctx context.Context, e Event) error {
	l.logger.InfoContext(ctx, "attendance updated",
		"employee_id", e.EmployeeID,
		"organization_id", e.OrganizationID,
		"date", string(e.Date),
		"punch", e.Punch,
		"arrival", e.ArrivalTime,
		"departure", e.DepartureTime,
		"source", string(e.Source),
		"version", e.Version,
	)
	return nil
}

// Discard drops every event.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, Event) error { return nil }
