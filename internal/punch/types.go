package punch

import (
	"strconv"
	"strings"
	"time"
)

// State is the punch state reported by a device.
// StateNone means the device omitted the state or sent a value we do not recognize.
type State int8

const (
	StateNone        State = -1
	StateArrival     State = 0
	StateDeparture   State = 1
	StateBreakOut    State = 2
	StateBreakIn     State = 3
	StateOvertimeIn  State = 4
	StateOvertimeOut State = 5
)

// Recognized reports whether the state is one of the vendor-defined values.
func (s State) Recognized() bool {
	return s >= StateArrival && s <= StateOvertimeOut
}

// ParseState converts a loosely typed vendor value into a State.
// Accepts strings, integers and JSON numbers; anything else is StateNone.
func ParseState(v any) State {
	var n int64
	switch val := v.(type) {
	case nil:
		return StateNone
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return StateNone
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return StateNone
		}
		n = parsed
	case int:
		n = int64(val)
	case int64:
		n = val
	case float64:
		if val != float64(int64(val)) {
			return StateNone
		}
		n = int64(val)
	case State:
		return val
	default:
		return StateNone
	}
	s := State(n)
	if n < int64(StateArrival) || n > int64(StateOvertimeOut) {
		return StateNone
	}
	return s
}

// VerifyMethod is how the device verified the employee.
type VerifyMethod string

const (
	VerifyFingerprint VerifyMethod = "fingerprint"
	VerifyFace        VerifyMethod = "face"
	VerifyPassword    VerifyMethod = "password"
	VerifyCard        VerifyMethod = "card"
	VerifyPalm        VerifyMethod = "palm"
)

// vendorVerifyCodes maps numeric verify_type codes used by ZK-family terminals.
var vendorVerifyCodes = map[int64]VerifyMethod{
	0:  VerifyPassword,
	1:  VerifyFingerprint,
	2:  VerifyCard,
	3:  VerifyPassword,
	4:  VerifyCard,
	15: VerifyFace,
	25: VerifyPalm,
}

var verifyNames = map[string]VerifyMethod{
	"fingerprint": VerifyFingerprint,
	"fp":          VerifyFingerprint,
	"finger":      VerifyFingerprint,
	"face":        VerifyFace,
	"password":    VerifyPassword,
	"pwd":         VerifyPassword,
	"card":        VerifyCard,
	"palm":        VerifyPalm,
}

// ParseVerifyMethod maps a vendor verify value to a VerifyMethod.
// Unknown or unmapped values default to fingerprint.
func ParseVerifyMethod(v any) VerifyMethod {
	switch val := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		if m, ok := verifyNames[s]; ok {
			return m
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ParseVerifyMethod(n)
		}
	case int:
		return ParseVerifyMethod(int64(val))
	case int64:
		if m, ok := vendorVerifyCodes[val]; ok {
			return m
		}
	case float64:
		return ParseVerifyMethod(int64(val))
	case VerifyMethod:
		return val
	}
	return VerifyFingerprint
}

// Origin names the ingestion path that observed a transaction.
type Origin string

const (
	OriginPoll   Origin = "poll"
	OriginPush   Origin = "push"
	OriginSocket Origin = "socket"
	OriginFile   Origin = "file"
)

// RawTransaction is one device event as received.
// Built once by an ingestion adapter and never mutated afterwards.
type RawTransaction struct {
	SourceTransactionID  string       `json:"source_transaction_id"`
	DeviceSerial         string       `json:"device_serial"`
	EmployeeCodeOnDevice string       `json:"employee_code"`
	MachineEmployeeID    int64        `json:"machine_employee_id"` // 0 when absent
	PunchTimestamp       time.Time    `json:"punch_timestamp"`
	PunchState           State        `json:"punch_state"`
	VerifyMethod         VerifyMethod `json:"verify_method"`
	RawPayload           string       `json:"raw_payload"`
	Origin               Origin       `json:"origin"` // Not part of the dedup key
}

// Kind is the classified direction of a punch.
type Kind int

const (
	Arrival Kind = iota + 1
	Departure
)

func (k Kind) String() string {
	switch k {
	case Arrival:
		return "arrival"
	case Departure:
		return "departure"
	default:
		return "unknown"
	}
}

// Employee is an internal employee record.
type Employee struct {
	ID             int64  `json:"id" yaml:"id"`
	OrganizationID int64  `json:"organization_id" yaml:"organization_id"`
	Name           string `json:"name" yaml:"name"`
	Active         bool   `json:"active" yaml:"active"`
}

// Device is a registered terminal and the tenant it belongs to.
type Device struct {
	Serial         string `json:"serial" yaml:"serial"`
	OrganizationID int64  `json:"organization_id" yaml:"organization_id"`
	Alias          string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// EnrollmentStatus tracks provisioning of an employee onto a device.
type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "PENDING"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentFailed    EnrollmentStatus = "FAILED"
)

// Binding maps one employee onto one device.
type Binding struct {
	EmployeeID            int64            `json:"employee_id" yaml:"employee_id"`
	OrganizationID        int64            `json:"organization_id" yaml:"organization_id"`
	DeviceSerial          string           `json:"device_serial" yaml:"device_serial"`
	DeviceLocalEmployeeID int64            `json:"device_local_employee_id" yaml:"device_local_employee_id"`
	DeviceLocalCode       string           `json:"device_local_code" yaml:"device_local_code"`
	EnrollmentStatus      EnrollmentStatus `json:"enrollment_status" yaml:"enrollment_status"`
	FingerprintEnrolled   bool             `json:"fingerprint_enrolled" yaml:"fingerprint_enrolled"`
}

// Status is the attendance status of a day.
type Status string

const (
	StatusPresent   Status = "Present"
	StatusAbsent    Status = "Absent"
	StatusHalfDay   Status = "Half-Day"
	StatusWeekOff   Status = "Week Off"
	StatusHoliday   Status = "Holiday"
	StatusPaidLeave Status = "Paid Leave"
)

// Source records who produced the current state of a day.
type Source string

const (
	SourceBiometric Source = "BIOMETRIC"
	SourceManual    Source = "MANUAL"
)

// AttendanceType distinguishes office attendance from field work.
type AttendanceType string

const (
	TypeOffice        AttendanceType = "OFFICE"
	TypeWorkFromField AttendanceType = "WORK_FROM_FIELD"
)

// AttendanceDay is the canonical per-employee, per-day record.
// Nil time pointers mean the boundary has not been recorded.
type AttendanceDay struct {
	ID             string         `json:"id"`
	EmployeeID     int64          `json:"employee_id"`
	OrganizationID int64          `json:"organization_id"`
	Date           Date           `json:"date"`
	Status         Status         `json:"status"`
	Arrival        *TimeOfDay     `json:"arrival_time"`
	Departure      *TimeOfDay     `json:"departure_time"`
	LunchStart     *TimeOfDay     `json:"lunch_start,omitempty"`
	LunchEnd       *TimeOfDay     `json:"lunch_end,omitempty"`
	BreakSeconds   int64          `json:"break_seconds"`
	WorkedSeconds  *int64         `json:"worked_seconds"`
	Source         Source         `json:"source"`
	Type           AttendanceType `json:"attendance_type"`
	FieldLocation  string         `json:"field_location,omitempty"`
	DeviceSerial   string         `json:"device_serial,omitempty"`
	VerifyMethod   VerifyMethod   `json:"verify_method,omitempty"`
	RawPayload     string         `json:"raw_payload,omitempty"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Worked returns the worked duration, or false when it is undefined.
func (d AttendanceDay) Worked() (time.Duration, bool) {
	if d.WorkedSeconds == nil {
		return 0, false
	}
	return time.Duration(*d.WorkedSeconds) * time.Second, true
}
