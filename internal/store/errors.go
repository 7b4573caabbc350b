package store

import "errors"

var (
	ErrNotFound            = errors.New("record not found")
	ErrUnknownEntityType   = errors.New("unknown entity type")
	ErrUnknownTable        = errors.New("unknown remote table")
	ErrInvalidRecord       = errors.New("invalid record")
	ErrSnapshotUnsupported = errors.New("snapshots not supported by this driver")
)
