package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/ledger"
	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/resolve"
	"github.com/roach88/punchsync/internal/store"
	"github.com/roach88/punchsync/internal/testutil"
)

// epoch is the fixed store clock for every run.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds the state of one scenario run.
type Harness struct {
	store      *store.Store
	aggregator *aggregate.Aggregator
	pipeline   *pipeline.Pipeline
	loc        *time.Location
	logger     *slog.Logger
}

// Run executes a scenario against a fresh in-memory store.
//
// Returns an error only when the run itself cannot proceed (bad timezone,
// directory seeding failure). Unmet expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	loc := time.UTC
	if scenario.Timezone != "" {
		l, err := time.LoadLocation(scenario.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scenario timezone: %w", err)
		}
		loc = l
	}

	clock := testutil.NewFakeClock(epoch)
	st, err := store.Open(":memory:", store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := seed(ctx, st, scenario.Directory); err != nil {
		return nil, fmt.Errorf("failed to seed directory: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store: st,
		aggregator: aggregate.New(st,
			aggregate.WithIDGenerator(testutil.NewSequentialIDs("day")),
			aggregate.WithLogger(logger),
		),
		loc:    loc,
		logger: logger,
	}
	h.restart()

	result := NewResult()
	for i, step := range scenario.Steps {
		clock.Advance(time.Second)
		event := h.execute(ctx, step)
		event.Seq = i + 1
		result.Trace = append(result.Trace, event)
		if step.Expect != nil {
			checkExpect(result, event, *step.Expect)
		}
	}

	result.Totals = countOutcomes(result.Trace)
	evaluateDays(ctx, result, st, scenario.Days)
	if scenario.Totals != nil {
		evaluateTotals(result, *scenario.Totals)
	}
	return result, nil
}

// restart replaces the pipeline; the new one starts with an empty ledger.
func (h *Harness) restart() {
	h.pipeline = pipeline.New(h.store, h.aggregator,
		pipeline.WithLedger(ledger.NewMemory()),
		pipeline.WithLocation(h.loc),
		pipeline.WithLogger(h.logger),
	)
}

func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	event := TraceEvent{Step: step.Kind()}
	switch {
	case step.Restart:
		h.restart()
	case step.Punch != nil:
		h.punch(ctx, *step.Punch, &event)
	case step.Manual != nil:
		h.manual(ctx, *step.Manual, &event)
	}
	return event
}

func (h *Harness) punch(ctx context.Context, p PunchStep, event *TraceEvent) {
	t := punch.RawTransaction{
		SourceTransactionID:  p.ID,
		DeviceSerial:         p.Device,
		EmployeeCodeOnDevice: p.Code,
		MachineEmployeeID:    p.MachineID,
		PunchState:           punch.StateNone,
		VerifyMethod:         punch.ParseVerifyMethod(p.Verify),
		Origin:               punch.Origin(p.Origin),
	}
	if p.State != nil {
		t.PunchState = punch.ParseState(*p.State)
	}
	ts, err := punch.ParseTimestamp(p.Time, h.loc)
	if err == nil {
		t.PunchTimestamp = ts
	}

	res := h.pipeline.Process(ctx, t)
	event.Outcome = res.Outcome.String()
	event.Code = string(pipeline.CodeOf(res.Err))
	event.EmployeeID = res.EmployeeID
	event.Date = string(res.Date)
	if res.Kind != 0 {
		event.Kind = res.Kind.String()
	}
	if res.Strategy != resolve.StrategyNone {
		event.Strategy = res.Strategy.String()
	}
	if res.Day != nil {
		event.Day = dayState(*res.Day)
	}
}

func (h *Harness) manual(ctx context.Context, e aggregate.ManualEntry, event *TraceEvent) {
	event.EmployeeID = e.EmployeeID
	event.Date = string(e.Date)

	day, err := h.aggregator.ApplyManual(ctx, e)
	switch {
	case errors.Is(err, aggregate.ErrInvalidEntry):
		event.Outcome, event.Code = "rejected", "INVALID_ENTRY"
	case errors.Is(err, aggregate.ErrUnknownEmployee):
		event.Outcome, event.Code = "rejected", "UNKNOWN_EMPLOYEE"
	case err != nil:
		event.Outcome, event.Code = "rejected", "PERSISTENCE_FAILURE"
	default:
		event.Outcome = pipeline.OutcomeApplied.String()
		event.Day = dayState(day)
	}
}

func dayState(d punch.AttendanceDay) *DayState {
	s := &DayState{
		Status:        string(d.Status),
		WorkedSeconds: d.WorkedSeconds,
		Source:        string(d.Source),
		Version:       d.Version,
	}
	if d.Arrival != nil {
		s.Arrival = d.Arrival.String()
	}
	if d.Departure != nil {
		s.Departure = d.Departure.String()
	}
	return s
}

func seed(ctx context.Context, st *store.Store, dir Directory) error {
	for _, d := range dir.Devices {
		if err := st.UpsertDevice(ctx, d); err != nil {
			return err
		}
	}
	for _, e := range dir.Employees {
		if err := st.UpsertEmployee(ctx, e); err != nil {
			return err
		}
	}
	for _, b := range dir.Bindings {
		if err := st.UpsertBinding(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
