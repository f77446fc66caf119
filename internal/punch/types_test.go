package punch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want State
	}{
		{"nil", nil, StateNone},
		{"empty string", "", StateNone},
		{"string zero", "0", StateArrival},
		{"padded string", " 1 ", StateDeparture},
		{"int zero", 0, StateArrival},
		{"int64 one", int64(1), StateDeparture},
		{"json number", float64(1), StateDeparture},
		{"fractional number", 1.5, StateNone},
		{"overtime in", "4", StateOvertimeIn},
		{"vendor unknown", "255", StateNone},
		{"negative", -1, StateNone},
		{"garbage", "abc", StateNone},
		{"bool", true, StateNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseState(tt.in))
		})
	}
}

func TestStateRecognized(t *testing.T) {
	assert.True(t, StateArrival.Recognized())
	assert.True(t, StateOvertimeOut.Recognized())
	assert.False(t, StateNone.Recognized())
	assert.False(t, State(9).Recognized())
}

func TestParseVerifyMethod(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want VerifyMethod
	}{
		{"nil defaults to fingerprint", nil, VerifyFingerprint},
		{"face code", 15, VerifyFace},
		{"palm json number", float64(25), VerifyPalm},
		{"card string code", "2", VerifyCard},
		{"name", "Face", VerifyFace},
		{"short name", "fp", VerifyFingerprint},
		{"unmapped code", "99", VerifyFingerprint},
		{"unmapped name", "iris", VerifyFingerprint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerifyMethod(tt.in))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "arrival", Arrival.String())
	assert.Equal(t, "departure", Departure.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestAttendanceDayWorked(t *testing.T) {
	var day AttendanceDay
	_, ok := day.Worked()
	assert.False(t, ok)

	secs := int64(9 * 3600)
	day.WorkedSeconds = &secs
	d, ok := day.Worked()
	assert.True(t, ok)
	assert.Equal(t, 9*time.Hour, d)
}
