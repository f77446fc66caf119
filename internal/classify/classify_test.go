package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/punchsync/internal/punch"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 1, 10, hh, mm, 0, 0, time.UTC)
}

func tod(hh, mm int) *punch.TimeOfDay {
	return punch.TimeOfDay(hh*3600 + mm*60).Ptr()
}

func txn(ts time.Time, state punch.State) punch.RawTransaction {
	return punch.RawTransaction{
		DeviceSerial:         "X1",
		EmployeeCodeOnDevice: "42",
		PunchTimestamp:       ts,
		PunchState:           state,
	}
}

func TestClassify(t *testing.T) {
	full := &punch.AttendanceDay{Arrival: tod(9, 0), Departure: tod(18, 0)}

	tests := []struct {
		name string
		txn  punch.RawTransaction
		day  *punch.AttendanceDay
		want Decision
	}{
		{
			name: "arrival state on empty day",
			txn:  txn(at(9, 0), punch.StateArrival),
			day:  nil,
			want: Decision{Kind: punch.Arrival, Rule: RuleDeviceState},
		},
		{
			name: "arrival state overrides full day",
			txn:  txn(at(20, 0), punch.StateArrival),
			day:  full,
			want: Decision{Kind: punch.Arrival, Rule: RuleDeviceState},
		},
		{
			name: "departure state on empty day",
			txn:  txn(at(9, 0), punch.StateDeparture),
			day:  &punch.AttendanceDay{},
			want: Decision{Kind: punch.Departure, Rule: RuleDeviceState},
		},
		{
			name: "break out counts as departure",
			txn:  txn(at(13, 0), punch.StateBreakOut),
			day:  nil,
			want: Decision{Kind: punch.Departure, Rule: RuleDeviceState},
		},
		{
			name: "no state on empty day",
			txn:  txn(at(9, 0), punch.StateNone),
			day:  &punch.AttendanceDay{},
			want: Decision{Kind: punch.Arrival, Rule: RuleFirstPunch},
		},
		{
			name: "no state with arrival set",
			txn:  txn(at(18, 0), punch.StateNone),
			day:  &punch.AttendanceDay{Arrival: tod(9, 0)},
			want: Decision{Kind: punch.Departure, Rule: RuleSecondPunch},
		},
		{
			name: "third punch earlier than arrival",
			txn:  txn(at(8, 30), punch.StateNone),
			day:  full,
			want: Decision{Kind: punch.Arrival, Rule: RuleCorrection},
		},
		{
			name: "third punch after arrival",
			txn:  txn(at(19, 0), punch.StateNone),
			day:  full,
			want: Decision{Kind: punch.Departure, Rule: RuleCorrection},
		},
		{
			name: "third punch equal to arrival",
			txn:  txn(at(9, 0), punch.StateNone),
			day:  full,
			want: Decision{Kind: punch.Departure, Rule: RuleCorrection},
		},
		{
			name: "unrecognized state falls through",
			txn:  txn(at(9, 0), punch.State(42)),
			day:  nil,
			want: Decision{Kind: punch.Arrival, Rule: RuleFirstPunch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.txn, tt.day))
		})
	}
}

func TestClassify_StringStateZeroIsAlwaysArrival(t *testing.T) {
	state := punch.ParseState("0")
	days := []*punch.AttendanceDay{
		nil,
		{Arrival: tod(9, 0)},
		{Arrival: tod(9, 0), Departure: tod(18, 0)},
	}
	for _, day := range days {
		got := Classify(txn(at(12, 0), state), day)
		assert.Equal(t, punch.Arrival, got.Kind)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	tx := txn(at(10, 15), punch.StateNone)
	day := &punch.AttendanceDay{Arrival: tod(9, 0), Departure: tod(18, 0)}

	first := Classify(tx, day)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(tx, day))
	}
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "correction", RuleCorrection.String())
	assert.Equal(t, "unknown", Rule(0).String())
}
