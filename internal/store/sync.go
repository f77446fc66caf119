package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncCursor is the poller's position for one device.
type SyncCursor struct {
	DeviceSerial string
	LastPunchAt  time.Time
	LastRunID    string
	UpdatedAt    time.Time
}

// SyncCursor returns the stored cursor for a device.
func (s *Store) SyncCursor(ctx context.Context, serial string) (SyncCursor, bool, error) {
	var (
		c             SyncCursor
		last, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT device_serial, last_punch_at, last_run_id, updated_at
		FROM device_sync WHERE device_serial = ?
	`, serial).Scan(&c.DeviceSerial, &last, &c.LastRunID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncCursor{}, false, nil
	}
	if err != nil {
		return SyncCursor{}, false, fmt.Errorf("get sync cursor %s: %w", serial, err)
	}
	if c.LastPunchAt, err = parseTime(last); err != nil {
		return SyncCursor{}, false, fmt.Errorf("get sync cursor %s: last_punch_at: %w", serial, err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return SyncCursor{}, false, fmt.Errorf("get sync cursor %s: updated_at: %w", serial, err)
	}
	return c, true, nil
}

// SaveSyncCursor advances the cursor for a device. The cursor never moves
// backwards: an older LastPunchAt leaves the stored value in place.
func (s *Store) SaveSyncCursor(ctx context.Context, serial string, lastPunchAt time.Time, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_sync (device_serial, last_punch_at, last_run_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_serial) DO UPDATE SET
			last_punch_at = MAX(device_sync.last_punch_at, excluded.last_punch_at),
			last_run_id   = excluded.last_run_id,
			updated_at    = excluded.updated_at
	`, serial, formatTime(lastPunchAt), runID, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save sync cursor %s: %w", serial, err)
	}
	return nil
}
