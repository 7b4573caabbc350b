package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/piehlerb/job-estimator-sub000/internal/schema"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/piehlerb/job-estimator-sub000/migrations"
	"github.com/pressly/goose/v3"
)

// Supported central store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CentralStore holds the shared copy of every user's records. Records are
// stored in the remote snake_case form and keyed by user, table and id.
type CentralStore struct {
	db     *sql.DB
	driver string
	path   string

	mu  sync.Mutex
	now func() time.Time
}

// NewCentralSQLiteStore opens (or creates) a SQLite central store.
func NewCentralSQLiteStore(dbPath string) (*CentralStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(context.Background(), db, goose.DialectSQLite3, migrations.CentralDir); err != nil {
		db.Close()
		return nil, err
	}

	return &CentralStore{db: db, driver: DriverSQLite, path: dbPath, now: time.Now}, nil
}

// NewCentralPostgresStore connects to a Postgres central store.
func NewCentralPostgresStore(dsn string) (*CentralStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(context.Background(), db, goose.DialectPostgres, migrations.PostgresDir); err != nil {
		db.Close()
		return nil, err
	}

	return &CentralStore{db: db, driver: DriverPostgres, now: time.Now}, nil
}

// NewCentralStore opens the central store for the given driver. For
// sqlite the source is a file path, for postgres a connection string.
func NewCentralStore(driver, source string) (*CentralStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewCentralSQLiteStore(source)
	case DriverPostgres:
		return NewCentralPostgresStore(source)
	default:
		return nil, fmt.Errorf("unsupported central store driver %q", driver)
	}
}

// Close closes the database connection
func (s *CentralStore) Close() error {
	return s.db.Close()
}

// Driver returns the database driver name.
func (s *CentralStore) Driver() string {
	return s.driver
}

// Ping checks the database connection.
func (s *CentralStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert stores rec unless the stored copy has a later updated_at. It
// reports whether the record was written.
func (s *CentralStore) Upsert(ctx context.Context, userID, table string, rec types.Record) (bool, error) {
	if !schema.IsRemoteTable(table) {
		return false, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	id := rec.ID()
	if id == "" {
		return false, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	updatedAt := types.ParseTimestamp(rec["updated_at"])
	if updatedAt.IsZero() {
		return false, fmt.Errorf("%w: missing or invalid updated_at", ErrInvalidRecord)
	}
	deleted, _ := rec["deleted"].(bool)

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	query := s.rebind(`
		INSERT INTO remote_records (user_id, table_name, id, payload, updated_at_ns, deleted, received_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, table_name, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at_ns = excluded.updated_at_ns,
			deleted = excluded.deleted,
			received_at_ns = excluded.received_at_ns
		WHERE excluded.updated_at_ns >= remote_records.updated_at_ns
	`)
	applied, err := s.stampedWrite(ctx, userID, table, func(tx *sql.Tx, received int64) (sql.Result, error) {
		return tx.ExecContext(ctx, query,
			userID, table, id, string(payload), updatedAt.UnixNano(), s.boolArg(deleted), received)
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}
	return applied, nil
}

// SoftDelete flags a stored record deleted at the given time unless the
// stored copy is newer. Missing records report false.
func (s *CentralStore) SoftDelete(ctx context.Context, userID, table, id string, at time.Time) (bool, error) {
	if !schema.IsRemoteTable(table) {
		return false, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var query string
	switch s.driver {
	case DriverPostgres:
		query = `
			UPDATE remote_records SET
				deleted = TRUE,
				updated_at_ns = $1,
				received_at_ns = $2,
				payload = payload || jsonb_build_object('deleted', true, 'updated_at', $3::text)
			WHERE user_id = $4 AND table_name = $5 AND id = $6 AND updated_at_ns <= $1`
	default:
		query = `
			UPDATE remote_records SET
				deleted = 1,
				updated_at_ns = ?1,
				received_at_ns = ?2,
				payload = json_set(payload, '$.deleted', json('true'), '$.updated_at', ?3)
			WHERE user_id = ?4 AND table_name = ?5 AND id = ?6 AND updated_at_ns <= ?1`
	}

	applied, err := s.stampedWrite(ctx, userID, table, func(tx *sql.Tx, received int64) (sql.Result, error) {
		return tx.ExecContext(ctx, query,
			at.UnixNano(), received, types.FormatTimestamp(at), userID, table, id)
	})
	if err != nil {
		return false, fmt.Errorf("soft delete %s/%s: %w", table, id, err)
	}
	return applied, nil
}

// Fetch returns the records of a table received after since, oldest
// first, with the cursor to use for the next fetch.
func (s *CentralStore) Fetch(ctx context.Context, userID, table string, since time.Time) ([]types.Record, time.Time, error) {
	if !schema.IsRemoteTable(table) {
		return nil, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var sinceNS int64
	if !since.IsZero() {
		sinceNS = since.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT payload, received_at_ns FROM remote_records
		WHERE user_id = ? AND table_name = ? AND received_at_ns > ?
		ORDER BY received_at_ns, id
	`), userID, table, sinceNS)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]types.Record, 0)
	cursor := sinceNS
	for rows.Next() {
		var payload string
		var received int64
		if err := rows.Scan(&payload, &received); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan %s: %w", table, err)
		}
		rec, err := decodePayload(payload)
		if err != nil {
			return nil, time.Time{}, err
		}
		records = append(records, rec)
		if received > cursor {
			cursor = received
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch %s: %w", table, err)
	}

	if cursor == 0 {
		return records, time.Time{}, nil
	}
	return records, time.Unix(0, cursor).UTC(), nil
}

// GenerateSnapshot writes a consistent copy of a SQLite central store next
// to the database and returns its path.
func (s *CentralStore) GenerateSnapshot(ctx context.Context) (string, error) {
	if s.driver != DriverSQLite {
		return "", ErrSnapshotUnsupported
	}

	final := s.SnapshotPath()
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp := final + ".tmp"
	os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("vacuum into snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("replace snapshot: %w", err)
	}
	return final, nil
}

// SnapshotPath returns where GenerateSnapshot writes.
func (s *CentralStore) SnapshotPath() string {
	return filepath.Join(filepath.Dir(s.path), "snapshots", "current.db")
}

// stampedWrite runs write in a transaction that holds the write lock of
// one user's table and passes it the next receive stamp. Stamps are
// assigned and committed in the same order, so a fetch cursor never moves
// past a row that commits later. It reports whether write changed a row.
func (s *CentralStore) stampedWrite(ctx context.Context, userID, table string, write func(tx *sql.Tx, received int64) (sql.Result, error)) (bool, error) {
	// SQLite transactions begin IMMEDIATE and hold the database write lock.
	// The mutex keeps this process's writers off busy_timeout.
	if s.driver != DriverPostgres {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtext($1::text), hashtext($2::text))", userID, table); err != nil {
			return false, fmt.Errorf("lock %s: %w", table, err)
		}
	}

	var last int64
	if err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(received_at_ns), 0) FROM remote_records
		WHERE user_id = ? AND table_name = ?
	`), userID, table).Scan(&last); err != nil {
		return false, fmt.Errorf("read receive stamp: %w", err)
	}
	received := s.now().UnixNano()
	if received <= last {
		received = last + 1
	}

	res, err := write(tx, received)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

func (s *CentralStore) boolArg(b bool) any {
	if s.driver == DriverPostgres {
		return b
	}
	return boolToInt(b)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *CentralStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
