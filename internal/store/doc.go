// Package store provides SQLite-backed durable storage for punchsync.
//
// Tables:
//   - employees, devices: the directory used for identity resolution
//   - device_bindings: employee ↔ device mappings, one per (employee, device)
//   - dedup_keys: durable dedup ledger keyed by the content fingerprint
//   - attendance_days: one row per (employee, work_date)
//   - device_sync: poller cursor per device
//
// # Write discipline
//
// Attendance mutations run inside WithTx. Transactions are opened with
// BEGIN IMMEDIATE (the _txlock=immediate DSN option), so the read of a day
// and its rewrite are serialized against every other writer, including
// other processes sharing the file. The dedup key is claimed with
// INSERT ... ON CONFLICT DO NOTHING inside the same transaction: zero rows
// affected means the punch was already applied.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
