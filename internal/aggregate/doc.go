// Package aggregate owns mutation of attendance days.
//
// Every change to an AttendanceDay goes through Apply (biometric punches) or
// ApplyManual (operator entries). Both hold a per-(employee, date) lock for
// the duration of a single immediate SQLite transaction, so concurrent
// punches for the same day never lose each other's effects.
//
// Apply also claims the punch's dedup key in the same transaction. A key that
// is already present aborts the apply with ErrDuplicate and leaves the day
// untouched; a failed write rolls the key back with everything else.
package aggregate
