package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// PendingChanges returns every queued change, oldest first.
func (s *LocalStore) PendingChanges(ctx context.Context) ([]types.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, record_id, operation, queued_at FROM sync_queue")
	if err != nil {
		return nil, fmt.Errorf("list sync queue: %w", err)
	}
	defer rows.Close()

	pcs := make([]types.PendingChange, 0)
	for rows.Next() {
		var et, id, op, queuedAt string
		if err := rows.Scan(&et, &id, &op, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan sync queue: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, queuedAt)
		if err != nil {
			return nil, fmt.Errorf("parse queued_at of %s/%s: %w", et, id, err)
		}
		pcs = append(pcs, types.PendingChange{
			EntityType: types.EntityType(et),
			RecordID:   id,
			Operation:  types.Operation(op),
			Timestamp:  ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync queue: %w", err)
	}
	sortPendingChanges(pcs)
	return pcs, nil
}

// PutPendingChange inserts a change or replaces the one queued for the same
// record.
func (s *LocalStore) PutPendingChange(ctx context.Context, pc types.PendingChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, record_id, operation, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, record_id) DO UPDATE SET
			operation = excluded.operation,
			queued_at = excluded.queued_at
	`, string(pc.EntityType), pc.RecordID, string(pc.Operation), types.FormatTimestamp(pc.Timestamp))
	if err != nil {
		return fmt.Errorf("queue %s/%s: %w", pc.EntityType, pc.RecordID, err)
	}
	return nil
}

// DeletePendingChanges removes the given changes in one transaction. A
// change re-queued since it was read has a different operation or
// timestamp and is left in place. Timestamps are matched in UTC and in
// the zone they were read with, since migrated rows may carry an offset.
func (s *LocalStore) DeletePendingChanges(ctx context.Context, pcs []types.PendingChange) error {
	if len(pcs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		DELETE FROM sync_queue
		WHERE entity_type = ? AND record_id = ? AND operation = ? AND queued_at IN (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dequeue: %w", err)
	}
	defer stmt.Close()

	for _, pc := range pcs {
		if _, err := stmt.ExecContext(ctx,
			string(pc.EntityType), pc.RecordID, string(pc.Operation),
			types.FormatTimestamp(pc.Timestamp), pc.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("dequeue %s/%s: %w", pc.EntityType, pc.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dequeue: %w", err)
	}
	return nil
}

// DeleteAllPendingChanges empties the sync queue.
func (s *LocalStore) DeleteAllPendingChanges(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("clear sync queue: %w", err)
	}
	return nil
}

// QueueProcessedAt returns when the queue was last processed, if ever.
func (s *LocalStore) QueueProcessedAt(ctx context.Context) (*time.Time, error) {
	t, err := s.getTime(ctx, SettingQueueProcessed)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// SetQueueProcessedAt records a queue processing pass.
func (s *LocalStore) SetQueueProcessedAt(ctx context.Context, at time.Time) error {
	return s.SetSetting(ctx, SettingQueueProcessed, types.FormatTimestamp(at))
}

func sortPendingChanges(pcs []types.PendingChange) {
	sort.Slice(pcs, func(i, j int) bool {
		if !pcs[i].Timestamp.Equal(pcs[j].Timestamp) {
			return pcs[i].Timestamp.Before(pcs[j].Timestamp)
		}
		if pcs[i].EntityType != pcs[j].EntityType {
			return pcs[i].EntityType < pcs[j].EntityType
		}
		return pcs[i].RecordID < pcs[j].RecordID
	})
}
