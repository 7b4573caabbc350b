// Package repository is the mutation entry point for entity records: every
// write lands in the local store, is recorded in the sync queue, and nudges
// the coordinator.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/store"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// Queue records pending changes.
type Queue interface {
	Enqueue(ctx context.Context, et types.EntityType, recordID string, op types.Operation) (types.PendingChange, error)
}

// Notifier is told about every successful mutation.
type Notifier interface {
	NotifyMutation()
}

// Repository wraps an EntityStore with sync bookkeeping.
type Repository struct {
	store    store.EntityStore
	queue    Queue
	notifier Notifier
	now      func() time.Time
}

// New creates a repository. notifier may be nil.
func New(es store.EntityStore, q Queue, notifier Notifier) *Repository {
	return &Repository{
		store:    es,
		queue:    q,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save stamps and stores a typed entity.
func (r *Repository) Save(ctx context.Context, e types.Entity) error {
	et := e.EntityType()
	base := e.Base()
	op := types.OpCreate
	if base.ID != "" {
		if stored, ok := r.lookup(ctx, et, base.ID); ok {
			op = types.OpUpdate
			if base.CreatedAt.IsZero() {
				base.CreatedAt = types.ParseTimestamp(stored["createdAt"])
			}
		}
	}
	base.Touch(r.now())

	rec, err := types.ToRecord(e)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, et, rec); err != nil {
		return err
	}
	r.track(ctx, et, base.ID, op)
	return nil
}

// PutRecord stores an untyped record, filling in the sync fields. It returns
// the record as stored.
func (r *Repository) PutRecord(ctx context.Context, et types.EntityType, rec types.Record) (types.Record, error) {
	if !et.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownEntityType, et)
	}
	out := rec.Clone()
	if out == nil {
		out = types.Record{}
	}
	now := types.FormatTimestamp(r.now())

	op := types.OpCreate
	id := out.ID()
	if id == "" {
		id = types.NewID()
		out["id"] = id
	} else if stored, ok := r.lookup(ctx, et, id); ok {
		op = types.OpUpdate
		if types.ParseTimestamp(out["createdAt"]).IsZero() {
			if created, ok := stored["createdAt"]; ok {
				out["createdAt"] = created
			}
		}
	}
	if types.ParseTimestamp(out["createdAt"]).IsZero() {
		out["createdAt"] = now
	}
	if _, ok := out["deleted"]; !ok {
		out["deleted"] = false
	}
	out["updatedAt"] = now

	if err := r.store.Put(ctx, et, out); err != nil {
		return nil, err
	}
	r.track(ctx, et, id, op)
	return out, nil
}

// Delete soft-deletes a record.
func (r *Repository) Delete(ctx context.Context, et types.EntityType, id string) error {
	if _, err := r.store.SoftDelete(ctx, et, id, r.now()); err != nil {
		return err
	}
	r.track(ctx, et, id, types.OpDelete)
	return nil
}

// Get returns a live record. Soft-deleted records are reported as
// store.ErrNotFound.
func (r *Repository) Get(ctx context.Context, et types.EntityType, id string) (types.Record, error) {
	rec, err := r.store.Get(ctx, et, id)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted() {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

// List returns every live record of et.
func (r *Repository) List(ctx context.Context, et types.EntityType) ([]types.Record, error) {
	return r.store.GetAll(ctx, et)
}

// ListIncludingDeleted returns every record of et, soft-deleted included.
func (r *Repository) ListIncludingDeleted(ctx context.Context, et types.EntityType) ([]types.Record, error) {
	return r.store.GetAllIncludingDeleted(ctx, et)
}

// Load reads a live record into a typed entity.
func Load[T any, PT interface {
	*T
	types.Entity
}](ctx context.Context, r *Repository, id string) (PT, error) {
	var zero T
	dst := PT(&zero)
	rec, err := r.Get(ctx, dst.EntityType(), id)
	if err != nil {
		return nil, err
	}
	if err := types.FromRecord(rec, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// lookup returns the stored copy of a record, soft-deleted included.
func (r *Repository) lookup(ctx context.Context, et types.EntityType, id string) (types.Record, bool) {
	stored, err := r.store.Get(ctx, et, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Debug("existence check failed",
			"component", "repository",
			"action", "lookup_failed",
			"entity_type", et,
			"record_id", id,
			"error", err,
		)
	}
	return stored, err == nil
}

// track enqueues the change and notifies. Queue failures never fail the
// mutation; the record is already stored.
func (r *Repository) track(ctx context.Context, et types.EntityType, id string, op types.Operation) {
	if _, err := r.queue.Enqueue(ctx, et, id, op); err != nil {
		slog.Error("failed to queue change for sync",
			"component", "repository",
			"action", "enqueue_failed",
			"entity_type", et,
			"record_id", id,
			"operation", op,
			"error", err,
		)
	}
	if r.notifier != nil {
		r.notifier.NotifyMutation()
	}
}
