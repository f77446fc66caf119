// Package punch provides the shared domain types for punch reconciliation.
//
// This package contains the transaction, binding and attendance-day types
// plus the content-derived dedup key. All other internal packages import
// punch; punch imports nothing internal.
//
// Key design constraints:
//   - RawTransaction is immutable once built by an ingestion adapter
//   - Times of day are second-resolution wall-clock values (TimeOfDay)
//   - Dates are civil dates in the configured location (Date)
//   - DedupKey never depends on which adapter observed a transaction
package punch
