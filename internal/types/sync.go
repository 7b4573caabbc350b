package types

import "time"

// Operation is the kind of local mutation a pending change records
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeKey identifies a record across entity tables
type ChangeKey struct {
	EntityType EntityType
	RecordID   string
}

// PendingChange is a local mutation not yet pushed to the remote store
type PendingChange struct {
	EntityType EntityType `json:"entityType"`
	RecordID   string     `json:"recordId"`
	Operation  Operation  `json:"operation"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Key returns the dedup key of the change.
func (p PendingChange) Key() ChangeKey {
	return ChangeKey{EntityType: p.EntityType, RecordID: p.RecordID}
}

// QueueState is the persisted form of the sync queue
type QueueState struct {
	PendingChanges []PendingChange `json:"pendingChanges"`
	LastProcessed  *time.Time      `json:"lastProcessed,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// SyncResult summarizes one push and pull attempt
type SyncResult struct {
	Success       bool      `json:"success"`
	RecordsPushed int       `json:"recordsPushed"`
	RecordsPulled int       `json:"recordsPulled"`
	Conflicts     int       `json:"conflicts"`
	Errors        []string  `json:"errors"`
	Timestamp     time.Time `json:"timestamp"`
}

// HealthResponse is returned by the central health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// FetchResponse lists remote records changed since a cursor.
// Records use the remote snake_case convention.
type FetchResponse struct {
	Table      string    `json:"table"`
	Records    []Record  `json:"records"`
	ServerTime time.Time `json:"server_time"`
}

// UpsertResponse reports whether a pushed record replaced the stored one
type UpsertResponse struct {
	ID      string `json:"id"`
	Applied bool   `json:"applied"`
}

// SnapshotResponse points at a downloadable central store snapshot
type SnapshotResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
