package ingest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
)

func decode(t *testing.T, s string) Record {
	t.Helper()
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(s), &rec))
	return rec
}

func TestNormalizeRecord_TypeVariance(t *testing.T) {
	opts := Options{Location: time.UTC, Origin: punch.OriginPoll}

	tests := []struct {
		name      string
		json      string
		wantState punch.State
		wantEmpID int64
	}{
		{"string state", `{"id":1,"emp_code":"42","emp_id":"17","punch_time":"2024-01-10 09:00:00","punch_state":"0","terminal_sn":"X1"}`, punch.StateArrival, 17},
		{"numeric state", `{"id":"1","emp_code":42,"emp_id":17,"punch_time":"2024-01-10 09:00:00","punch_state":1,"terminal_sn":"X1"}`, punch.StateDeparture, 17},
		{"null state", `{"id":1,"emp_code":"42","emp_id":null,"punch_time":"2024-01-10 09:00:00","punch_state":null,"terminal_sn":"X1"}`, punch.StateNone, 0},
		{"missing state", `{"id":1,"emp_code":"42","punch_time":"2024-01-10 09:00:00","terminal_sn":"X1"}`, punch.StateNone, 0},
		{"garbage state", `{"id":1,"emp_code":"42","emp_id":"abc","punch_time":"2024-01-10 09:00:00","punch_state":"255","terminal_sn":"X1"}`, punch.StateNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := NormalizeRecord(decode(t, tt.json), opts)
			require.NoError(t, err)
			assert.Equal(t, "1", txn.SourceTransactionID)
			assert.Equal(t, "42", txn.EmployeeCodeOnDevice)
			assert.Equal(t, "X1", txn.DeviceSerial)
			assert.Equal(t, tt.wantState, txn.PunchState)
			assert.Equal(t, tt.wantEmpID, txn.MachineEmployeeID)
			assert.Equal(t, punch.OriginPoll, txn.Origin)
			assert.Equal(t, "2024-01-10 09:00:00", punch.FormatTimestamp(txn.PunchTimestamp))
		})
	}
}

func TestNormalizeRecord_SameKeyAcrossTypeVariants(t *testing.T) {
	opts := Options{Location: time.UTC}
	a, err := NormalizeRecord(decode(t, `{"id":1001,"emp_code":42,"punch_time":"2024-01-10 09:00:00","terminal_sn":"X1"}`), opts)
	require.NoError(t, err)
	b, err := NormalizeRecord(decode(t, `{"id":"1001","emp_code":"42","punch_time":"2024-01-10T09:00:00","terminal_sn":" X1 ","punch_state":"0"}`), opts)
	require.NoError(t, err)

	assert.Equal(t, punch.MustDedupKey(a), punch.MustDedupKey(b))
}

func TestNormalizeRecord_VerifyMethod(t *testing.T) {
	opts := Options{Location: time.UTC}
	rec := decode(t, `{"emp_code":"42","punch_time":"2024-01-10 09:00:00","terminal_sn":"X1","verify_type":15}`)
	txn, err := NormalizeRecord(rec, opts)
	require.NoError(t, err)
	assert.Equal(t, punch.VerifyFace, txn.VerifyMethod)

	rec["verify_type"] = 99.0
	txn, err = NormalizeRecord(rec, opts)
	require.NoError(t, err)
	assert.Equal(t, punch.VerifyFingerprint, txn.VerifyMethod, "unmapped codes default to fingerprint")
}

func TestNormalizeRecord_DefaultSerialAndPayload(t *testing.T) {
	rec := decode(t, `{"emp_code":"42","punch_time":"2024-01-10 09:00:00"}`)
	txn, err := NormalizeRecord(rec, Options{DeviceSerial: "X1", Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, "X1", txn.DeviceSerial)
	assert.JSONEq(t, `{"emp_code":"42","punch_time":"2024-01-10 09:00:00"}`, txn.RawPayload)
}

func TestNormalizeRecord_Malformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing time", `{"emp_code":"42","terminal_sn":"X1"}`},
		{"null time", `{"emp_code":"42","terminal_sn":"X1","punch_time":null}`},
		{"bad time", `{"emp_code":"42","terminal_sn":"X1","punch_time":"yesterday"}`},
		{"no serial", `{"emp_code":"42","punch_time":"2024-01-10 09:00:00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRecord(decode(t, tt.json), Options{Location: time.UTC})
			require.Error(t, err)
			assert.True(t, pipeline.IsMalformed(err))
		})
	}
}

func TestNormalizeRecord_OffsetTimestampConvertedToLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	rec := decode(t, `{"emp_code":"42","terminal_sn":"X1","punch_time":"2024-01-10T20:00:00Z"}`)
	txn, err := NormalizeRecord(rec, Options{Location: ist})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-11 01:30:00", punch.FormatTimestamp(txn.PunchTimestamp))
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "42", AsString(42.0))
	assert.Equal(t, "4.5", AsString(4.5))
	assert.Equal(t, "7", AsString(json.Number("7")))
	assert.Equal(t, "abc", AsString("  abc "))
	assert.Equal(t, "true", AsString(true))
}

func TestAsInt(t *testing.T) {
	n, ok := AsInt("17")
	assert.True(t, ok)
	assert.Equal(t, int64(17), n)

	_, ok = AsInt(1.5)
	assert.False(t, ok)

	_, ok = AsInt(nil)
	assert.False(t, ok)
}

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords(strings.NewReader(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = DecodeRecords(strings.NewReader(`{"count":1,"next":"","data":[{"id":1}]}`))
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = DecodeRecords(strings.NewReader(`{"id":9}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "9", AsString(recs[0]["id"]))

	recs, err = DecodeRecords(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = DecodeRecords(strings.NewReader(`"nope"`))
	assert.Error(t, err)
}
