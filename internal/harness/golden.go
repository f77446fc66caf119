package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/punchsync/internal/punch"
)

// GoldenDir holds expected traces, one <scenario name>.golden per scenario.
const GoldenDir = "testdata/golden"

// MarshalTrace renders a trace as indented canonical JSON with a trailing
// newline. Keys are sorted, so the bytes depend only on the trace content.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	events := make([]any, len(trace))
	for i, e := range trace {
		events[i] = e.toCanonicalMap()
	}
	canonical, err := punch.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"trace":         events,
	})
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, canonical, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its trace with the golden
// file. Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace with the golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(name, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
