package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/piehlerb/job-estimator-sub000/internal/metrics"
	"github.com/piehlerb/job-estimator-sub000/internal/schema"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/piehlerb/job-estimator-sub000/internal/validation"
)

// maxRecordBytes bounds a pushed record body.
const maxRecordBytes = 1 << 20

// CentralStore is the shared record store behind the API.
type CentralStore interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, userID, table string, rec types.Record) (bool, error)
	SoftDelete(ctx context.Context, userID, table, id string, at time.Time) (bool, error)
	Fetch(ctx context.Context, userID, table string, since time.Time) ([]types.Record, time.Time, error)
}

// SnapshotLinker hands out download links for the latest snapshot.
type SnapshotLinker interface {
	PresignedURL(ctx context.Context) (string, time.Time, error)
}

// Handler implements the API handlers
type Handler struct {
	store     CentralStore
	snapshots SnapshotLinker
	metrics   *metrics.Metrics
	apiKey    string
	version   string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSnapshots enables GET /snapshot.
func WithSnapshots(l SnapshotLinker) HandlerOption {
	return func(h *Handler) {
		h.snapshots = l
	}
}

// WithHandlerMetrics records per-table push and pull counts.
func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new Handler.
func NewHandler(s CentralStore, apiKey, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:   s,
		apiKey:  apiKey,
		version: version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /api/v1/health. It reports 503 when the store
// cannot be reached so clients treat the server as offline.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed",
			"component", "api",
			"action", "health_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Central store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// PutRecord handles PUT /api/v1/tables/{table}/records/{id}
func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	userID, _ := UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRecordBytes)
	var rec types.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Record exceeds %d bytes", maxRecordBytes))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if rec == nil {
		WriteProblem(w, r, http.StatusBadRequest, "Record body must be a JSON object")
		return
	}

	if errs := validation.ValidateRemoteRecord(id, rec); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Record contains invalid fields", errs)
		return
	}

	applied, err := h.store.Upsert(r.Context(), userID, table, rec)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	h.metrics.ObserveUpsert(table, applied)

	if !applied {
		slog.Debug("stale record ignored",
			"component", "api",
			"action", "upsert_stale",
			"table", table,
			"id", id,
			"user_id", userID,
			"device_id", DeviceIDFromContext(r.Context()),
		)
	}
	writeJSON(w, http.StatusOK, types.UpsertResponse{ID: id, Applied: applied})
}

// DeleteRecord handles DELETE /api/v1/tables/{table}/records/{id}?deleted_at=
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateID("id", id); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid record id", []validation.ValidationError{*verr})
		return
	}

	raw := r.URL.Query().Get("deleted_at")
	if raw == "" {
		WriteProblem(w, r, http.StatusBadRequest, "deleted_at is required")
		return
	}
	at := types.ParseTimestamp(raw)
	if at.IsZero() {
		WriteProblem(w, r, http.StatusBadRequest, "deleted_at must be an RFC 3339 timestamp")
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	applied, err := h.store.SoftDelete(r.Context(), userID, table, id, at)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	h.metrics.ObserveUpsert(table, applied)
	writeJSON(w, http.StatusOK, types.UpsertResponse{ID: id, Applied: applied})
}

// ListRecords handles GET /api/v1/tables/{table}/records?since=
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since = types.ParseTimestamp(raw)
		if since.IsZero() {
			WriteProblem(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
	}

	userID, _ := UserIDFromContext(r.Context())
	records, cursor, err := h.store.Fetch(r.Context(), userID, table, since)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	h.metrics.ObserveFetch(table, len(records))

	writeJSON(w, http.StatusOK, types.FetchResponse{
		Table:      table,
		Records:    records,
		ServerTime: cursor,
	})
}

// Snapshot handles GET /api/v1/snapshot
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		WriteProblem(w, r, http.StatusNotImplemented, "Snapshots are not enabled on this server")
		return
	}
	link, expires, err := h.snapshots.PresignedURL(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotResponse{URL: link, ExpiresAt: expires})
}

// table reads and checks the {table} path parameter.
func (h *Handler) table(w http.ResponseWriter, r *http.Request) (string, bool) {
	table := chi.URLParam(r, "table")
	if !schema.IsRemoteTable(table) {
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("Unknown table %q", table))
		return "", false
	}
	return table, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response",
			"component", "api",
			"error", err,
		)
	}
}
