package harness

// TraceEvent records what one step did. Optional fields are empty when they
// do not apply to the step.
type TraceEvent struct {
	Seq        int       `json:"seq"`
	Step       string    `json:"step"`
	Outcome    string    `json:"outcome,omitempty"`
	Code       string    `json:"code,omitempty"`
	EmployeeID int64     `json:"employee_id,omitempty"`
	Date       string    `json:"date,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Day        *DayState `json:"day,omitempty"`
}

// DayState is the part of an attendance day a trace shows.
type DayState struct {
	Status        string `json:"status"`
	Arrival       string `json:"arrival_time,omitempty"`
	Departure     string `json:"departure_time,omitempty"`
	WorkedSeconds *int64 `json:"worked_seconds,omitempty"`
	Source        string `json:"source"`
	Version       int64  `json:"version"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	Totals Totals       `json:"totals"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// toCanonicalMap renders the event for punch.MarshalCanonical.
func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"step": e.Step,
	}
	if e.Outcome != "" {
		m["outcome"] = e.Outcome
	}
	if e.Code != "" {
		m["code"] = e.Code
	}
	if e.EmployeeID != 0 {
		m["employee_id"] = e.EmployeeID
	}
	if e.Date != "" {
		m["date"] = e.Date
	}
	if e.Kind != "" {
		m["kind"] = e.Kind
	}
	if e.Strategy != "" {
		m["strategy"] = e.Strategy
	}
	if d := e.Day; d != nil {
		day := map[string]any{
			"status":  d.Status,
			"source":  d.Source,
			"version": d.Version,
		}
		if d.Arrival != "" {
			day["arrival_time"] = d.Arrival
		}
		if d.Departure != "" {
			day["departure_time"] = d.Departure
		}
		if d.WorkedSeconds != nil {
			day["worked_seconds"] = *d.WorkedSeconds
		}
		m["day"] = day
	}
	return m
}
