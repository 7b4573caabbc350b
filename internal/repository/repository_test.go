package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/queue"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) NotifyMutation() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, et types.EntityType, id string, op types.Operation) (types.PendingChange, error) {
	return types.PendingChange{}, queue.ErrPersist
}

func setup(t *testing.T) (*Repository, *store.LocalStore, *queue.Queue, *countingNotifier) {
	t.Helper()
	ls, err := store.NewLocalStore(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	q := queue.New(ls)
	n := &countingNotifier{}
	return New(ls, q, n), ls, q, n
}

func TestRepository_SaveNewEntity(t *testing.T) {
	// Given: a fresh laborer with no id
	ctx := context.Background()
	repo, _, q, n := setup(t)
	l := &types.Laborer{Name: "Sam", HourlyRate: 28, Active: true}

	// When: it is saved
	if err := repo.Save(ctx, l); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Then: it has sync fields, is queued as a create, and the coordinator was told
	if l.ID == "" || l.CreatedAt.IsZero() || l.UpdatedAt.IsZero() {
		t.Errorf("sync fields not set: %+v", l.Syncable)
	}
	pc, ok := q.Get(types.EntityLaborers, l.ID)
	if !ok || pc.Operation != types.OpCreate {
		t.Errorf("queue entry = %+v, %v; want create", pc, ok)
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1", n.count())
	}

	got, err := Load[types.Laborer](ctx, repo, l.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Name != "Sam" || got.HourlyRate != 28 {
		t.Errorf("Load() = %+v", got)
	}
}

func TestRepository_SaveExistingIsUpdate(t *testing.T) {
	ctx := context.Background()
	repo, _, q, _ := setup(t)
	j := &types.Job{CustomerName: "Acme"}
	repo.Save(ctx, j)
	first := j.UpdatedAt

	time.Sleep(time.Millisecond)
	j.CustomerName = "Acme Garage"
	if err := repo.Save(ctx, j); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if !j.UpdatedAt.After(first) {
		t.Errorf("UpdatedAt not refreshed: %v -> %v", first, j.UpdatedAt)
	}
	if q.Count() != 1 {
		t.Errorf("queue Count() = %d, want 1", q.Count())
	}
	if pc, _ := q.Get(types.EntityJobs, j.ID); pc.Operation != types.OpUpdate {
		t.Errorf("operation = %q, want update", pc.Operation)
	}
}

func TestRepository_SaveKeepsStoredCreatedAt(t *testing.T) {
	// Given: a job saved on Jan 1
	ctx := context.Background()
	repo, _, _, _ := setup(t)
	repo.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	j := &types.Job{CustomerName: "Acme"}
	if err := repo.Save(ctx, j); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	created := j.CreatedAt

	// When: a partially built copy with only the id is saved on Feb 1
	repo.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	partial := &types.Job{CustomerName: "Acme Garage"}
	partial.ID = j.ID
	if err := repo.Save(ctx, partial); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Then: createdAt is the stored one and updatedAt moved
	got, err := Load[types.Job](ctx, repo, j.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestRepository_PutRecordKeepsStoredCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo, _, q, _ := setup(t)
	first, err := repo.PutRecord(ctx, types.EntityCosts, types.Record{"name": "Blade"})
	if err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	second, err := repo.PutRecord(ctx, types.EntityCosts, types.Record{"id": first.ID(), "name": "Blade 2"})
	if err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	if second["createdAt"] != first["createdAt"] {
		t.Errorf("createdAt = %v, want %v", second["createdAt"], first["createdAt"])
	}
	if pc, _ := q.Get(types.EntityCosts, first.ID()); pc.Operation != types.OpUpdate {
		t.Errorf("operation = %q, want update", pc.Operation)
	}
}

func TestRepository_DeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	repo, ls, q, _ := setup(t)
	rec, err := repo.PutRecord(ctx, types.EntityChipBlends, types.Record{"name": "Granite"})
	if err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	id := rec.ID()

	if err := repo.Delete(ctx, types.EntityChipBlends, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.Get(ctx, types.EntityChipBlends, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	live, _ := repo.List(ctx, types.EntityChipBlends)
	if len(live) != 0 {
		t.Errorf("List() = %v, want empty", live)
	}
	all, _ := repo.ListIncludingDeleted(ctx, types.EntityChipBlends)
	if len(all) != 1 || !all[0].IsDeleted() {
		t.Errorf("ListIncludingDeleted() = %v", all)
	}
	raw, _ := ls.Get(ctx, types.EntityChipBlends, id)
	if raw.UpdatedAt().Before(types.ParseTimestamp(rec["updatedAt"])) {
		t.Errorf("delete moved updatedAt backwards: %v", raw["updatedAt"])
	}
	if pc, _ := q.Get(types.EntityChipBlends, id); pc.Operation != types.OpDelete {
		t.Errorf("operation = %q, want delete", pc.Operation)
	}
}

func TestRepository_DeleteMissing(t *testing.T) {
	repo, _, q, n := setup(t)
	if err := repo.Delete(context.Background(), types.EntityJobs, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if q.HasPending() || n.count() != 0 {
		t.Error("failed delete must not be queued")
	}
}

func TestRepository_PutRecordFillsSyncFields(t *testing.T) {
	repo, _, _, _ := setup(t)
	rec, err := repo.PutRecord(context.Background(), types.EntityPricing, types.Record{"name": "markup", "value": 1.35})
	if err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	for _, k := range []string{"id", "createdAt", "updatedAt", "deleted"} {
		if _, ok := rec[k]; !ok {
			t.Errorf("missing %q in %v", k, rec)
		}
	}
	if _, err := repo.PutRecord(context.Background(), types.EntityType("settings"), types.Record{}); !errors.Is(err, store.ErrUnknownEntityType) {
		t.Errorf("PutRecord(settings) error = %v", err)
	}
}

func TestRepository_QueueFailureDoesNotFailSave(t *testing.T) {
	// Given: a queue that cannot persist
	ls, err := store.NewLocalStore(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	defer ls.Close()
	repo := New(ls, failingQueue{}, nil)

	// When: an entity is saved
	s := &types.System{Name: "Flake"}
	err = repo.Save(context.Background(), s)

	// Then: the save still succeeds and the record is stored
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := repo.Get(context.Background(), types.EntitySystems, s.ID); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}
