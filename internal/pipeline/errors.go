package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DropError explains why a transaction was dropped.
//
// Drop reasons include:
//   - Malformed: missing or unparseable timestamp, missing device serial
//   - Unknown device: serial not registered to any organization
//   - Unresolved identity: no resolution strategy matched
//   - Cross tenant: resolved employee belongs to another organization
//   - Lookup failure: the directory could not be read
//   - Persistence failure: the attendance write rolled back
//
// None of these are retried automatically.
type DropError struct {
	// Code identifies the drop category.
	Code DropCode

	// Message is a human-readable description.
	Message string

	// Details carries the identifiers involved, for diagnosis.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// DropCode categorizes dropped transactions.
type DropCode string

const (
	// CodeMalformed indicates the transaction cannot be interpreted.
	CodeMalformed DropCode = "MALFORMED_TRANSACTION"

	// CodeUnknownDevice indicates the device serial is not registered.
	CodeUnknownDevice DropCode = "UNKNOWN_DEVICE"

	// CodeUnresolved indicates no strategy mapped the transaction to an employee.
	CodeUnresolved DropCode = "UNRESOLVED_IDENTITY"

	// CodeCrossTenant indicates the employee and device belong to different
	// organizations. Security relevant.
	CodeCrossTenant DropCode = "CROSS_TENANT"

	// CodeLookupFailure indicates a directory read failed.
	CodeLookupFailure DropCode = "LOOKUP_FAILURE"

	// CodePersistence indicates the attendance write failed and rolled back.
	CodePersistence DropCode = "PERSISTENCE_FAILURE"
)

// Error implements the error interface.
func (e *DropError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *DropError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code DropCode) bool {
	var de *DropError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsMalformed returns true if the error is a malformed transaction drop.
func IsMalformed(err error) bool { return hasCode(err, CodeMalformed) }

// IsUnknownDevice returns true if the error is an unknown device drop.
func IsUnknownDevice(err error) bool { return hasCode(err, CodeUnknownDevice) }

// IsUnresolved returns true if the error is an unresolved identity drop.
func IsUnresolved(err error) bool { return hasCode(err, CodeUnresolved) }

// IsCrossTenant returns true if the error is a cross-tenant drop.
func IsCrossTenant(err error) bool { return hasCode(err, CodeCrossTenant) }

// IsLookupFailure returns true if the error is a directory read failure.
func IsLookupFailure(err error) bool { return hasCode(err, CodeLookupFailure) }

// IsPersistence returns true if the error is a persistence failure.
func IsPersistence(err error) bool { return hasCode(err, CodePersistence) }

// CodeOf returns the drop code of err, or "" if err is not a DropError.
func CodeOf(err error) DropCode {
	var de *DropError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// NewMalformed creates a malformed transaction drop.
func NewMalformed(msg string, details map[string]string, cause error) *DropError {
	return &DropError{Code: CodeMalformed, Message: msg, Details: details, Err: cause}
}
