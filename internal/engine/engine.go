// Package engine runs one push-then-pull reconciliation between the local
// store and the central store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/piehlerb/job-estimator-sub000/internal/conflict"
	"github.com/piehlerb/job-estimator-sub000/internal/remote"
	"github.com/piehlerb/job-estimator-sub000/internal/schema"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// LocalStore is the local persistence the engine reads and writes.
// Get must return an error matching store.ErrNotFound for missing records.
// PutIfNewer must check and write in one transaction, writing only when no
// stored copy exists or the stored updatedAt is strictly earlier.
type LocalStore interface {
	Get(ctx context.Context, et types.EntityType, id string) (types.Record, error)
	PutIfNewer(ctx context.Context, et types.EntityType, rec types.Record) (bool, error)
	PullCursor(ctx context.Context, table string) (time.Time, error)
	SetPullCursor(ctx context.Context, table string, at time.Time) error
	SetLastSyncTime(ctx context.Context, at time.Time) error
}

// Queue is the pending-change ledger.
type Queue interface {
	Drain(ctx context.Context) ([]types.PendingChange, error)
	Clear(ctx context.Context, processed []types.PendingChange) error
	Has(et types.EntityType, recordID string) bool
	Enqueue(ctx context.Context, et types.EntityType, recordID string, op types.Operation) (types.PendingChange, error)
	MarkProcessed(ctx context.Context, at time.Time) error
}

// Remote is the central store API.
type Remote interface {
	Upsert(ctx context.Context, table string, rec types.Record) (bool, error)
	Delete(ctx context.Context, table, id string, at time.Time) (bool, error)
	FetchAll(ctx context.Context, table string, since time.Time) (*types.FetchResponse, error)
}

// Engine performs sync attempts. It is not safe to run two attempts at
// once; callers serialize them.
type Engine struct {
	local       LocalStore
	queue       Queue
	remote      Remote
	entityTypes []types.EntityType
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEntityTypes limits the pull phase to the given types.
func WithEntityTypes(ets ...types.EntityType) Option {
	return func(e *Engine) {
		e.entityTypes = ets
	}
}

// New creates an engine.
func New(local LocalStore, queue Queue, rem Remote, opts ...Option) *Engine {
	e := &Engine{
		local:       local,
		queue:       queue,
		remote:      rem,
		entityTypes: types.AllEntityTypes,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync pushes every pending change, then pulls remote changes for every
// entity type. Failures are collected in the result and never undo
// progress already made.
func (e *Engine) Sync(ctx context.Context) *types.SyncResult {
	result := &types.SyncResult{Errors: []string{}}

	drained := e.push(ctx, result)
	e.pull(ctx, result, drained)

	result.Timestamp = e.now()
	result.Success = len(result.Errors) == 0

	if err := e.queue.MarkProcessed(ctx, result.Timestamp); err != nil {
		slog.Warn("failed to record queue processing time",
			"component", "engine",
			"action", "mark_processed_failed",
			"error", err,
		)
	}
	if result.Success {
		if err := e.local.SetLastSyncTime(ctx, result.Timestamp); err != nil {
			slog.Warn("failed to record last sync time",
				"component", "engine",
				"action", "last_sync_failed",
				"error", err,
			)
		}
	}

	slog.Info("sync attempt completed",
		"component", "engine",
		"action", "sync_complete",
		"success", result.Success,
		"pushed", result.RecordsPushed,
		"pulled", result.RecordsPulled,
		"conflicts", result.Conflicts,
		"errors", len(result.Errors),
	)
	return result
}

// push sends each drained change and returns the set of keys drained in
// this attempt.
func (e *Engine) push(ctx context.Context, result *types.SyncResult) map[types.ChangeKey]bool {
	changes, err := e.queue.Drain(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("push aborted: %v", err))
		slog.Warn("push phase aborted",
			"component", "engine",
			"action", "push_aborted",
			"error", err,
		)
		return map[types.ChangeKey]bool{}
	}
	drained := make(map[types.ChangeKey]bool, len(changes))
	for _, ch := range changes {
		drained[ch.Key()] = true
	}

	for i, ch := range changes {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("push aborted: %v", err))
			return drained
		}

		err := e.pushChange(ctx, ch)
		if errors.Is(err, errSkipped) {
			e.clear(ctx, ch)
			continue
		}
		if err != nil {
			if isPhaseFatal(err) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("push aborted with %d of %d changes unsent: %v", len(changes)-i, len(changes), err))
				slog.Warn("push phase aborted",
					"component", "engine",
					"action", "push_aborted",
					"remaining", len(changes)-i,
					"error", err,
				)
				return drained
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("push %s/%s: %v", ch.EntityType, ch.RecordID, err))
			slog.Warn("push failed",
				"component", "engine",
				"action", "push_failed",
				"entity_type", ch.EntityType,
				"record_id", ch.RecordID,
				"error", err,
			)
			continue
		}

		result.RecordsPushed++
		e.clear(ctx, ch)
	}
	return drained
}

// errSkipped marks a change that has nothing left to push.
var errSkipped = errors.New("nothing to push")

func (e *Engine) pushChange(ctx context.Context, ch types.PendingChange) error {
	table := schema.RemoteTable(ch.EntityType)

	rec, err := e.local.Get(ctx, ch.EntityType, ch.RecordID)
	if errors.Is(err, store.ErrNotFound) {
		if ch.Operation == types.OpDelete {
			_, err := e.remote.Delete(ctx, table, ch.RecordID, ch.Timestamp)
			return err
		}
		slog.Warn("dropping queued change for missing record",
			"component", "engine",
			"action", "push_skipped",
			"entity_type", ch.EntityType,
			"record_id", ch.RecordID,
		)
		return errSkipped
	}
	if err != nil {
		return fmt.Errorf("read local record: %w", err)
	}

	applied, err := e.remote.Upsert(ctx, table, schema.ToRemote(rec))
	if err != nil {
		return err
	}
	if !applied {
		slog.Debug("remote kept a newer copy",
			"component", "engine",
			"action", "push_superseded",
			"entity_type", ch.EntityType,
			"record_id", ch.RecordID,
		)
	}
	return nil
}

func (e *Engine) clear(ctx context.Context, ch types.PendingChange) {
	if err := e.queue.Clear(ctx, []types.PendingChange{ch}); err != nil {
		slog.Warn("failed to clear pushed change",
			"component", "engine",
			"action", "clear_failed",
			"entity_type", ch.EntityType,
			"record_id", ch.RecordID,
			"error", err,
		)
	}
}

func (e *Engine) pull(ctx context.Context, result *types.SyncResult, drained map[types.ChangeKey]bool) {
	for _, et := range e.entityTypes {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("pull aborted: %v", err))
			return
		}

		table := schema.RemoteTable(et)
		err := e.pullTable(ctx, et, table, result, drained)
		if err == nil {
			continue
		}
		if isPhaseFatal(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("pull aborted: %v", err))
			slog.Warn("pull phase aborted",
				"component", "engine",
				"action", "pull_aborted",
				"table", table,
				"error", err,
			)
			return
		}
		result.Errors = append(result.Errors, fmt.Sprintf("pull %s: %v", table, err))
		slog.Warn("pull failed",
			"component", "engine",
			"action", "pull_failed",
			"table", table,
			"error", err,
		)
	}
}

// pullTable fetches and applies one table. Record-level failures are added
// to the result directly; the returned error is for the fetch itself.
func (e *Engine) pullTable(ctx context.Context, et types.EntityType, table string, result *types.SyncResult, drained map[types.ChangeKey]bool) error {
	since, err := e.local.PullCursor(ctx, table)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	resp, err := e.remote.FetchAll(ctx, table, since)
	if err != nil {
		return err
	}

	clean := true
	for _, remoteRec := range resp.Records {
		incoming := schema.ToLocal(remoteRec)
		if err := e.apply(ctx, et, incoming, result, drained); err != nil {
			clean = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("pull %s/%s: %v", et, incoming.ID(), err))
		}
	}

	if clean && !resp.ServerTime.IsZero() {
		if err := e.local.SetPullCursor(ctx, table, resp.ServerTime); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, et types.EntityType, incoming types.Record, result *types.SyncResult, drained map[types.ChangeKey]bool) error {
	id := incoming.ID()
	if id == "" {
		return errors.New("remote record has no id")
	}

	local, err := e.local.Get(ctx, et, id)
	if errors.Is(err, store.ErrNotFound) {
		written, err := e.local.PutIfNewer(ctx, et, incoming)
		if err != nil {
			return err
		}
		if written {
			result.RecordsPulled++
		}
		return nil
	}
	if err != nil {
		return err
	}

	if cmp.Equal(local, incoming) {
		return nil
	}

	res := conflict.Resolve(local, incoming)
	if res.Source == conflict.SourceRemote {
		// The stored copy may have changed since Get; the conditional write
		// keeps an edit that landed in between.
		written, err := e.local.PutIfNewer(ctx, et, res.Winner)
		if err != nil {
			return err
		}
		if !written {
			slog.Debug("local copy changed during pull",
				"component", "engine",
				"action", "pull_superseded",
				"entity_type", et,
				"record_id", id,
			)
			return nil
		}
		result.RecordsPulled++
		key := types.ChangeKey{EntityType: et, RecordID: id}
		if drained[key] || e.queue.Has(et, id) {
			result.Conflicts++
			slog.Info("remote copy replaced local edit",
				"component", "engine",
				"action", "conflict_resolved",
				"entity_type", et,
				"record_id", id,
				"winner", res.Source,
			)
		}
		return nil
	}

	// Local wins. A strictly newer local copy with nothing queued means its
	// change never reached the ledger; queue it so the next push repairs it.
	if local.UpdatedAt().After(incoming.UpdatedAt()) && !e.queue.Has(et, id) {
		if _, err := e.queue.Enqueue(ctx, et, id, types.OpUpdate); err != nil {
			slog.Warn("failed to queue newer local copy",
				"component", "engine",
				"action", "repair_enqueue_failed",
				"entity_type", et,
				"record_id", id,
				"error", err,
			)
		}
	}
	return nil
}

// isPhaseFatal reports errors that will fail every remaining call of a phase.
func isPhaseFatal(err error) bool {
	return errors.Is(err, remote.ErrUnauthorized) ||
		errors.Is(err, remote.ErrNoUser) ||
		errors.Is(err, remote.ErrNotConfigured) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
