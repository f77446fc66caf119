package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/punch"
)

// Scenario is one replayable sequence of punches and manual entries.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Timezone is the tenant wall-clock zone. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	Directory Directory `yaml:"directory"`
	Steps     []Step    `yaml:"steps"`

	// Days are checked against the store after the last step.
	Days []DayAssertion `yaml:"days,omitempty"`

	// Totals are checked against the punch outcomes of the run.
	Totals *Totals `yaml:"totals,omitempty"`
}

// Directory seeds the store before the first step.
type Directory struct {
	Devices   []punch.Device   `yaml:"devices"`
	Employees []punch.Employee `yaml:"employees"`
	Bindings  []punch.Binding  `yaml:"bindings,omitempty"`
}

// Step is exactly one of a punch, a manual entry or a restart.
type Step struct {
	Punch   *PunchStep             `yaml:"punch,omitempty"`
	Manual  *aggregate.ManualEntry `yaml:"manual,omitempty"`
	Restart bool                   `yaml:"restart,omitempty"`
	Expect  *Expect                `yaml:"expect,omitempty"`
}

// Kind names the step type as it appears in the trace.
func (s Step) Kind() string {
	switch {
	case s.Punch != nil:
		return "punch"
	case s.Manual != nil:
		return "manual"
	case s.Restart:
		return "restart"
	default:
		return ""
	}
}

// PunchStep describes a raw device transaction.
type PunchStep struct {
	ID        string `yaml:"id,omitempty"`
	Device    string `yaml:"device"`
	Code      string `yaml:"code,omitempty"`
	MachineID int64  `yaml:"machine_id,omitempty"`
	Time      string `yaml:"time"`
	// State is the vendor punch state; omitted means the device sent none.
	State  *int   `yaml:"state,omitempty"`
	Verify string `yaml:"verify,omitempty"`
	Origin string `yaml:"origin,omitempty"`
}

// Expect is a subset match against one step's trace event. Empty fields are
// not checked.
type Expect struct {
	Outcome    string `yaml:"outcome,omitempty"`
	Code       string `yaml:"code,omitempty"`
	Kind       string `yaml:"kind,omitempty"`
	Strategy   string `yaml:"strategy,omitempty"`
	EmployeeID int64  `yaml:"employee_id,omitempty"`
}

// DayAssertion checks one stored day. Absent asserts that no row exists.
type DayAssertion struct {
	EmployeeID    int64      `yaml:"employee_id"`
	Date          punch.Date `yaml:"date"`
	Absent        bool       `yaml:"absent,omitempty"`
	Status        string     `yaml:"status,omitempty"`
	Arrival       string     `yaml:"arrival_time,omitempty"`
	Departure     string     `yaml:"departure_time,omitempty"`
	WorkedSeconds *int64     `yaml:"worked_seconds,omitempty"`
	Source        string     `yaml:"source,omitempty"`
	Version       int64      `yaml:"version,omitempty"`
}

// Totals counts punch step outcomes.
type Totals struct {
	Applied   int `yaml:"applied" json:"applied"`
	Unchanged int `yaml:"unchanged" json:"unchanged"`
	Duplicate int `yaml:"duplicate" json:"duplicate"`
	Dropped   int `yaml:"dropped" json:"dropped"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, ordered by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		n := 0
		if step.Punch != nil {
			n++
		}
		if step.Manual != nil {
			n++
		}
		if step.Restart {
			n++
		}
		if n != 1 {
			return fmt.Errorf("step %d: exactly one of punch, manual or restart is required", i+1)
		}
		if p := step.Punch; p != nil && p.Time == "" {
			return fmt.Errorf("step %d: punch time is required", i+1)
		}
		if step.Restart && step.Expect != nil {
			return fmt.Errorf("step %d: restart steps take no expect clause", i+1)
		}
	}

	for i, d := range s.Days {
		if d.EmployeeID <= 0 || d.Date == "" {
			return fmt.Errorf("days[%d]: employee_id and date are required", i)
		}
	}
	return nil
}
