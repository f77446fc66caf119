package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
)

// Record is one vendor transaction as decoded from JSON. Field types vary
// between firmware versions, so values stay untyped until normalized.
type Record map[string]any

// Vendor record field names.
const (
	FieldID         = "id"
	FieldEmpCode    = "emp_code"
	FieldEmpID      = "emp_id"
	FieldPunchTime  = "punch_time"
	FieldPunchState = "punch_state"
	FieldVerifyType = "verify_type"
	FieldTerminalSN = "terminal_sn"
)

// Options controls normalization.
type Options struct {
	// DeviceSerial is used when the record carries no terminal_sn.
	DeviceSerial string
	// Location is the wall-clock zone of naive timestamps. Nil is time.Local.
	Location *time.Location
	Origin   punch.Origin
}

// NormalizeRecord converts a vendor record into a transaction. Missing and
// null fields are tolerated except the timestamp and device serial; failures
// are *pipeline.DropError with code MALFORMED_TRANSACTION.
func NormalizeRecord(rec Record, opts Options) (punch.RawTransaction, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return punch.RawTransaction{}, pipeline.NewMalformed("cannot encode record", nil, err)
	}

	t := punch.RawTransaction{
		SourceTransactionID:  AsString(rec[FieldID]),
		DeviceSerial:         AsString(rec[FieldTerminalSN]),
		EmployeeCodeOnDevice: AsString(rec[FieldEmpCode]),
		PunchState:           punch.ParseState(rec[FieldPunchState]),
		VerifyMethod:         punch.ParseVerifyMethod(rec[FieldVerifyType]),
		RawPayload:           string(payload),
		Origin:               opts.Origin,
	}
	if t.DeviceSerial == "" {
		t.DeviceSerial = strings.TrimSpace(opts.DeviceSerial)
	}
	if id, ok := AsInt(rec[FieldEmpID]); ok && id > 0 {
		t.MachineEmployeeID = id
	}

	details := map[string]string{
		"source_transaction_id": t.SourceTransactionID,
		"device_serial":         t.DeviceSerial,
		"employee_code":         t.EmployeeCodeOnDevice,
	}
	if t.DeviceSerial == "" {
		return punch.RawTransaction{}, pipeline.NewMalformed("record has no terminal serial", details, nil)
	}
	raw := AsString(rec[FieldPunchTime])
	if raw == "" {
		return punch.RawTransaction{}, pipeline.NewMalformed("record has no punch_time", details, nil)
	}
	ts, err := punch.ParseTimestamp(raw, opts.Location)
	if err != nil {
		details["punch_time"] = raw
		return punch.RawTransaction{}, pipeline.NewMalformed("unparseable punch_time", details, err)
	}
	t.PunchTimestamp = ts
	return t, nil
}

// AsString renders a loosely typed value as trimmed text. Nil is "".
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// AsInt interprets a loosely typed value as an integer.
func AsInt(v any) (int64, bool) {
	switch val := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	default:
		return 0, false
	}
}
