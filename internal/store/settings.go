package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// Well-known settings keys.
const (
	SettingQueueProcessed = "sync_queue_processed_at"
	SettingLastSync       = "last_sync_at"
	SettingDeviceID       = "device_id"
	pullCursorPrefix      = "pull_cursor:"
)

// GetSetting returns a settings value or ErrNotFound.
func (s *LocalStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting inserts or replaces a settings value.
func (s *LocalStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, types.FormatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a settings value. Missing keys are not an error.
func (s *LocalStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// PullCursor returns the server time of the last clean pull of a remote
// table. The zero time means nothing was pulled yet.
func (s *LocalStore) PullCursor(ctx context.Context, table string) (time.Time, error) {
	return s.getTime(ctx, pullCursorPrefix+table)
}

// SetPullCursor stores the pull cursor of a remote table.
func (s *LocalStore) SetPullCursor(ctx context.Context, table string, at time.Time) error {
	return s.SetSetting(ctx, pullCursorPrefix+table, types.FormatTimestamp(at))
}

// LastSyncTime returns the time of the last successful sync, if any.
func (s *LocalStore) LastSyncTime(ctx context.Context) (*time.Time, error) {
	t, err := s.getTime(ctx, SettingLastSync)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// SetLastSyncTime records a successful sync.
func (s *LocalStore) SetLastSyncTime(ctx context.Context, at time.Time) error {
	return s.SetSetting(ctx, SettingLastSync, types.FormatTimestamp(at))
}

// DeviceID returns this installation's identifier, creating it on first use.
func (s *LocalStore) DeviceID(ctx context.Context) (string, error) {
	id, err := s.GetSetting(ctx, SettingDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.SetSetting(ctx, SettingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalStore) getTime(ctx context.Context, key string) (time.Time, error) {
	raw, err := s.GetSetting(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, nil
}
