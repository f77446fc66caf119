package punch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DomainDedup prefixes dedup key hashes. The version suffix allows a future
// change of the fingerprint fields without colliding with old keys.
const DomainDedup = "punchsync/dedup/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DedupKey computes the content-derived fingerprint of a transaction from
// (device serial, source transaction id, employee code, punch timestamp).
//
// Origin, verify method, state and raw payload are excluded: the same
// physical punch observed by two adapters must yield the same key.
// The timestamp is rendered as local wall-clock text so adapters that parse
// the same value in the same location agree byte for byte.
func DedupKey(t RawTransaction) (string, error) {
	if t.PunchTimestamp.IsZero() {
		return "", fmt.Errorf("dedup key: punch timestamp is required")
	}
	obj := map[string]any{
		"device_serial":         strings.TrimSpace(t.DeviceSerial),
		"source_transaction_id": strings.TrimSpace(t.SourceTransactionID),
		"employee_code":         strings.TrimSpace(t.EmployeeCodeOnDevice),
		"punch_timestamp":       FormatTimestamp(t.PunchTimestamp),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("dedup key: %w", err)
	}
	return hashWithDomain(DomainDedup, canonical), nil
}

// MustDedupKey is like DedupKey but panics on error.
// Use only in tests or when the timestamp is known to be set.
func MustDedupKey(t RawTransaction) string {
	key, err := DedupKey(t)
	if err != nil {
		panic(err)
	}
	return key
}
