package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/punchsync/internal/punch"
)

// DedupRecord is the durable ledger entry for an applied transaction.
type DedupRecord struct {
	Key          string
	EmployeeID   int64
	Date         punch.Date
	DeviceSerial string
}

// ClaimDedupKey inserts the ledger entry inside the transaction.
// Uses ON CONFLICT(key) DO NOTHING to claim the slot atomically: returns
// claimed=false when the key was already present.
func (t *Tx) ClaimDedupKey(ctx context.Context, rec DedupRecord) (claimed bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO dedup_keys (key, employee_id, work_date, device_serial, admitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`,
		rec.Key,
		rec.EmployeeID,
		string(rec.Date),
		rec.DeviceSerial,
		formatTime(t.now),
	)
	if err != nil {
		return false, fmt.Errorf("claim dedup key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim dedup key: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// HasDedupKey reports whether a transaction fingerprint was already applied.
func (s *Store) HasDedupKey(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dedup_keys WHERE key = ?
	`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check dedup key: %w", err)
	}
	return count > 0, nil
}

// CountDedupKeys returns the number of durable ledger entries.
func (s *Store) CountDedupKeys(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dedup keys: %w", err)
	}
	return count, nil
}

// PruneDedupKeys evicts ledger entries admitted before the cutoff and returns
// how many were removed. This is the only path that removes ledger entries.
func (s *Store) PruneDedupKeys(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM dedup_keys WHERE admitted_at < ?
	`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune dedup keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune dedup keys: rows affected: %w", err)
	}
	return n, nil
}
