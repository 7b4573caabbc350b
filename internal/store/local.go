package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/schema"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/piehlerb/job-estimator-sub000/migrations"
	"github.com/pressly/goose/v3"
)

// LocalStore is the on-device SQLite database. Every entity type has its own
// table named after its remote table; sync bookkeeping lives in settings.
type LocalStore struct {
	db   *sql.DB
	path string
}

// NewLocalStore opens (or creates) the local database and migrates it.
func NewLocalStore(dbPath string) (*LocalStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(context.Background(), db, goose.DialectSQLite3, migrations.LocalDir); err != nil {
		db.Close()
		return nil, err
	}

	return &LocalStore{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.path
}

func tableFor(et types.EntityType) (string, error) {
	if !et.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, et)
	}
	return schema.RemoteTable(et), nil
}

// Get returns a record by id, including soft-deleted records.
func (s *LocalStore) Get(ctx context.Context, et types.EntityType, id string) (types.Record, error) {
	table, err := tableFor(et)
	if err != nil {
		return nil, err
	}

	var payload string
	err = s.db.QueryRowContext(ctx, "SELECT payload FROM "+table+" WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", et, id, err)
	}
	return decodePayload(payload)
}

// GetAll returns every record of et that is not soft-deleted.
func (s *LocalStore) GetAll(ctx context.Context, et types.EntityType) ([]types.Record, error) {
	return s.list(ctx, et, false)
}

// GetAllIncludingDeleted returns every record of et.
func (s *LocalStore) GetAllIncludingDeleted(ctx context.Context, et types.EntityType) ([]types.Record, error) {
	return s.list(ctx, et, true)
}

func (s *LocalStore) list(ctx context.Context, et types.EntityType, includeDeleted bool) ([]types.Record, error) {
	table, err := tableFor(et)
	if err != nil {
		return nil, err
	}

	query := "SELECT payload FROM " + table
	if !includeDeleted {
		query += " WHERE deleted = 0"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", et, err)
	}
	defer rows.Close()

	records := make([]types.Record, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", et, err)
		}
		rec, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Put inserts or replaces a record.
func (s *LocalStore) Put(ctx context.Context, et types.EntityType, rec types.Record) error {
	table, err := tableFor(et)
	if err != nil {
		return err
	}
	return putRecord(ctx, s.db, table, et, rec)
}

// PutIfNewer writes rec unless the stored copy has an equal or later
// updatedAt. The read and the write share one transaction, so an edit
// committed after the caller's last read is never overwritten by an older
// copy. It reports whether rec was written.
func (s *LocalStore) PutIfNewer(ctx context.Context, et types.EntityType, rec types.Record) (bool, error) {
	table, err := tableFor(et)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, "SELECT payload FROM "+table+" WHERE id = ?", rec.ID()).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("get %s/%s: %w", et, rec.ID(), err)
	default:
		stored, err := decodePayload(payload)
		if err != nil {
			return false, err
		}
		if !rec.UpdatedAt().After(stored.UpdatedAt()) {
			return false, nil
		}
	}

	if err := putRecord(ctx, tx, table, et, rec); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit put %s/%s: %w", et, rec.ID(), err)
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRecord(ctx context.Context, db execer, table string, et types.EntityType, rec types.Record) error {
	if rec.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, payload, created_at, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted
	`, rec.ID(), string(payload),
		types.FormatTimestamp(types.ParseTimestamp(rec["createdAt"])),
		types.FormatTimestamp(rec.UpdatedAt()),
		boolToInt(rec.IsDeleted()))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", et, rec.ID(), err)
	}
	return nil
}

// SoftDelete flags a record deleted and stamps updatedAt, in one transaction.
// It returns the record as stored afterwards.
func (s *LocalStore) SoftDelete(ctx context.Context, et types.EntityType, id string, at time.Time) (types.Record, error) {
	table, err := tableFor(et)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, "SELECT payload FROM "+table+" WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", et, id, err)
	}

	rec, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	rec["deleted"] = true
	rec["updatedAt"] = types.FormatTimestamp(at)

	updated, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE "+table+" SET payload = ?, updated_at = ?, deleted = 1 WHERE id = ?",
		string(updated), types.FormatTimestamp(at), id); err != nil {
		return nil, fmt.Errorf("soft delete %s/%s: %w", et, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit soft delete: %w", err)
	}
	return rec, nil
}

// Count returns the number of live records per entity type.
func (s *LocalStore) Count(ctx context.Context, et types.EntityType) (int, error) {
	table, err := tableFor(et)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE deleted = 0").Scan(&n)
	return n, err
}

func decodePayload(payload string) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return rec, nil
}
