// Package queue holds the durable ledger of local mutations waiting to be
// pushed, collapsed to one entry per record.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// ErrPersist wraps failures writing the queue state.
var ErrPersist = errors.New("persist sync queue")

// Store persists pending changes one row per (entity type, record id).
// Several processes may share a Store, so the Queue never writes back a
// whole snapshot.
//
// DeletePendingChanges removes an entry only while its operation and
// timestamp still match. QueueProcessedAt returns nil when nothing was
// recorded yet.
type Store interface {
	PendingChanges(ctx context.Context) ([]types.PendingChange, error)
	PutPendingChange(ctx context.Context, pc types.PendingChange) error
	DeletePendingChanges(ctx context.Context, pcs []types.PendingChange) error
	DeleteAllPendingChanges(ctx context.Context) error
	QueueProcessedAt(ctx context.Context) (*time.Time, error)
	SetQueueProcessedAt(ctx context.Context, at time.Time) error
}

// Queue is safe for concurrent use. The store is the source of truth; the
// queue keeps a mirror of it that is refreshed after every mutation and on
// every Drain.
type Queue struct {
	mu            sync.Mutex
	store         Store
	entries       map[types.ChangeKey]types.PendingChange
	lastProcessed *time.Time
	updatedAt     time.Time
	now           func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates an empty queue backed by store. Call Load to restore
// persisted entries.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		entries: make(map[types.ChangeKey]types.PendingChange),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the in-memory mirror with the persisted state.
func (q *Queue) Load(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.refreshLocked(ctx); err != nil {
		return fmt.Errorf("load sync queue: %w", err)
	}
	lp, err := q.store.QueueProcessedAt(ctx)
	if err != nil {
		return fmt.Errorf("load sync queue: %w", err)
	}
	q.lastProcessed = lp

	slog.Debug("sync queue loaded",
		"component", "queue",
		"action", "load",
		"pending", len(q.entries),
	)
	return nil
}

// Enqueue records a mutation, replacing any pending entry for the same
// record. On a persistence failure the queue is left unchanged.
func (q *Queue) Enqueue(ctx context.Context, et types.EntityType, recordID string, op types.Operation) (types.PendingChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pc := types.PendingChange{
		EntityType: et,
		RecordID:   recordID,
		Operation:  op,
		Timestamp:  q.now(),
	}
	if err := q.store.PutPendingChange(ctx, pc); err != nil {
		return types.PendingChange{}, persistErr(err)
	}

	q.entries[pc.Key()] = pc
	q.updatedAt = pc.Timestamp
	q.syncLocked(ctx)
	return pc, nil
}

// Drain returns the pending entries, oldest first, as currently persisted.
// The queue is not modified.
func (q *Queue) Drain(ctx context.Context) ([]types.PendingChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.refreshLocked(ctx); err != nil {
		return nil, fmt.Errorf("read sync queue: %w", err)
	}
	return q.snapshotLocked(), nil
}

// Clear removes the given entries. An entry is only removed if it still
// matches the drained one, so a record mutated again while a sync was in
// flight stays queued. A nil slice clears everything.
func (q *Queue) Clear(ctx context.Context, processed []types.PendingChange) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	if processed == nil {
		err = q.store.DeleteAllPendingChanges(ctx)
	} else {
		err = q.store.DeletePendingChanges(ctx, processed)
	}
	if err != nil {
		return persistErr(err)
	}

	if processed == nil {
		q.entries = make(map[types.ChangeKey]types.PendingChange)
	}
	for _, pc := range processed {
		cur, ok := q.entries[pc.Key()]
		if ok && cur.Operation == pc.Operation && cur.Timestamp.Equal(pc.Timestamp) {
			delete(q.entries, pc.Key())
		}
	}
	q.updatedAt = q.now()
	q.syncLocked(ctx)
	return nil
}

// MarkProcessed records the time of the last processing pass.
func (q *Queue) MarkProcessed(ctx context.Context, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.SetQueueProcessedAt(ctx, at); err != nil {
		return persistErr(err)
	}
	q.lastProcessed = &at
	return nil
}

// Count returns the number of pending entries seen at the last refresh.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// HasPending reports whether anything is waiting to be pushed.
func (q *Queue) HasPending() bool {
	return q.Count() > 0
}

// Has reports whether a record has a pending entry.
func (q *Queue) Has(et types.EntityType, recordID string) bool {
	_, ok := q.Get(et, recordID)
	return ok
}

// Get returns the pending entry for a record.
func (q *Queue) Get(et types.EntityType, recordID string) (types.PendingChange, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pc, ok := q.entries[types.ChangeKey{EntityType: et, RecordID: recordID}]
	return pc, ok
}

// State returns a copy of the queue state.
func (q *Queue) State() types.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := types.QueueState{
		PendingChanges: q.snapshotLocked(),
		UpdatedAt:      q.updatedAt,
	}
	if q.lastProcessed != nil {
		lp := *q.lastProcessed
		state.LastProcessed = &lp
	}
	return state
}

// refreshLocked reloads the mirror from the store.
func (q *Queue) refreshLocked(ctx context.Context) error {
	pcs, err := q.store.PendingChanges(ctx)
	if err != nil {
		return err
	}
	entries := make(map[types.ChangeKey]types.PendingChange, len(pcs))
	for _, pc := range pcs {
		entries[pc.Key()] = pc
		if pc.Timestamp.After(q.updatedAt) {
			q.updatedAt = pc.Timestamp
		}
	}
	q.entries = entries
	return nil
}

// syncLocked picks up entries written by other processes after a
// successful mutation. A failed read keeps the locally updated mirror.
func (q *Queue) syncLocked(ctx context.Context) {
	if err := q.refreshLocked(ctx); err != nil {
		slog.Debug("sync queue refresh failed",
			"component", "queue",
			"action", "refresh_failed",
			"error", err,
		)
	}
}

func (q *Queue) snapshotLocked() []types.PendingChange {
	out := make([]types.PendingChange, 0, len(q.entries))
	for _, pc := range q.entries {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

func persistErr(err error) error {
	slog.Warn("sync queue persist failed",
		"component", "queue",
		"action", "persist_failed",
		"error", err,
	)
	return fmt.Errorf("%w: %v", ErrPersist, err)
}
