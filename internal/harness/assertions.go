package harness

import (
	"context"
	"fmt"

	"github.com/roach88/punchsync/internal/store"
)

// checkExpect compares one step's event with its expect clause.
func checkExpect(r *Result, e TraceEvent, want Expect) {
	if want.Outcome != "" && e.Outcome != want.Outcome {
		r.AddError(fmt.Sprintf("step %d: outcome = %q, want %q", e.Seq, e.Outcome, want.Outcome))
	}
	if want.Code != "" && e.Code != want.Code {
		r.AddError(fmt.Sprintf("step %d: code = %q, want %q", e.Seq, e.Code, want.Code))
	}
	if want.Kind != "" && e.Kind != want.Kind {
		r.AddError(fmt.Sprintf("step %d: kind = %q, want %q", e.Seq, e.Kind, want.Kind))
	}
	if want.Strategy != "" && e.Strategy != want.Strategy {
		r.AddError(fmt.Sprintf("step %d: strategy = %q, want %q", e.Seq, e.Strategy, want.Strategy))
	}
	if want.EmployeeID != 0 && e.EmployeeID != want.EmployeeID {
		r.AddError(fmt.Sprintf("step %d: employee_id = %d, want %d", e.Seq, e.EmployeeID, want.EmployeeID))
	}
}

// evaluateDays checks the stored days after the run.
func evaluateDays(ctx context.Context, r *Result, st *store.Store, days []DayAssertion) {
	for _, want := range days {
		label := fmt.Sprintf("day (employee=%d, date=%s)", want.EmployeeID, want.Date)

		got, found, err := st.Day(ctx, want.EmployeeID, want.Date)
		if err != nil {
			r.AddError(fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if want.Absent {
			if found {
				r.AddError(fmt.Sprintf("%s: expected no record, found version %d", label, got.Version))
			}
			continue
		}
		if !found {
			r.AddError(fmt.Sprintf("%s: not found", label))
			continue
		}

		state := dayState(got)
		if want.Status != "" && state.Status != want.Status {
			r.AddError(fmt.Sprintf("%s: status = %q, want %q", label, state.Status, want.Status))
		}
		if want.Arrival != "" && state.Arrival != want.Arrival {
			r.AddError(fmt.Sprintf("%s: arrival_time = %q, want %q", label, state.Arrival, want.Arrival))
		}
		if want.Departure != "" && state.Departure != want.Departure {
			r.AddError(fmt.Sprintf("%s: departure_time = %q, want %q", label, state.Departure, want.Departure))
		}
		if want.Source != "" && state.Source != want.Source {
			r.AddError(fmt.Sprintf("%s: source = %q, want %q", label, state.Source, want.Source))
		}
		if want.Version != 0 && state.Version != want.Version {
			r.AddError(fmt.Sprintf("%s: version = %d, want %d", label, state.Version, want.Version))
		}
		if want.WorkedSeconds != nil {
			switch {
			case state.WorkedSeconds == nil:
				r.AddError(fmt.Sprintf("%s: worked_seconds unset, want %d", label, *want.WorkedSeconds))
			case *state.WorkedSeconds != *want.WorkedSeconds:
				r.AddError(fmt.Sprintf("%s: worked_seconds = %d, want %d", label, *state.WorkedSeconds, *want.WorkedSeconds))
			}
		}
	}
}

// countOutcomes tallies punch step outcomes from the trace.
func countOutcomes(trace []TraceEvent) Totals {
	var t Totals
	for _, e := range trace {
		if e.Step != "punch" {
			continue
		}
		switch e.Outcome {
		case "applied":
			t.Applied++
		case "unchanged":
			t.Unchanged++
		case "duplicate":
			t.Duplicate++
		case "dropped":
			t.Dropped++
		}
	}
	return t
}

func evaluateTotals(r *Result, want Totals) {
	if got := r.Totals; got != want {
		r.AddError(fmt.Sprintf("totals = %+v, want %+v", got, want))
	}
}
