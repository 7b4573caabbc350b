// Package store persists entity records on the device (LocalStore) and on
// the central server (CentralStore).
package store

import (
	"context"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// EntityStore defines the per-entity CRUD contract of the local database.
// Each call is one transaction.
type EntityStore interface {
	Get(ctx context.Context, et types.EntityType, id string) (types.Record, error)
	GetAll(ctx context.Context, et types.EntityType) ([]types.Record, error)
	GetAllIncludingDeleted(ctx context.Context, et types.EntityType) ([]types.Record, error)
	Put(ctx context.Context, et types.EntityType, rec types.Record) error
	SoftDelete(ctx context.Context, et types.EntityType, id string, at time.Time) (types.Record, error)
}

var _ EntityStore = (*LocalStore)(nil)
