// Package classify decides whether a punch is an arrival or a departure.
package classify

import (
	"github.com/roach88/punchsync/internal/punch"
)

// Rule identifies which decision rule classified a punch.
type Rule int

const (
	RuleDeviceState Rule = iota + 1
	RuleFirstPunch
	RuleSecondPunch
	RuleCorrection
)

func (r Rule) String() string {
	switch r {
	case RuleDeviceState:
		return "device_state"
	case RuleFirstPunch:
		return "first_punch"
	case RuleSecondPunch:
		return "second_punch"
	case RuleCorrection:
		return "correction"
	default:
		return "unknown"
	}
}

// Decision is a classification and the rule that produced it.
type Decision struct {
	Kind punch.Kind
	Rule Rule
}

// Classify classifies t against the current day snapshot. A nil day is an
// empty day. The result depends only on its arguments.
//
// Rules, in order:
//  1. A recognized device state wins: arrival stays arrival, any other
//     recognized state is a departure.
//  2. No arrival recorded yet: arrival.
//  3. No departure recorded yet: departure.
//  4. Both recorded: a punch earlier than the arrival replaces the arrival,
//     anything else replaces the departure.
//
// Rule 4 is a business-policy assumption for days with more than two punches.
func Classify(t punch.RawTransaction, day *punch.AttendanceDay) Decision {
	if t.PunchState.Recognized() {
		if t.PunchState == punch.StateArrival {
			return Decision{Kind: punch.Arrival, Rule: RuleDeviceState}
		}
		return Decision{Kind: punch.Departure, Rule: RuleDeviceState}
	}

	if day == nil || day.Arrival == nil {
		return Decision{Kind: punch.Arrival, Rule: RuleFirstPunch}
	}
	if day.Departure == nil {
		return Decision{Kind: punch.Departure, Rule: RuleSecondPunch}
	}

	if punch.ClockOf(t.PunchTimestamp).Before(*day.Arrival) {
		return Decision{Kind: punch.Arrival, Rule: RuleCorrection}
	}
	return Decision{Kind: punch.Departure, Rule: RuleCorrection}
}
