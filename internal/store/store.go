// Package store provides the embedded SQLite record store for replog.
//
// The store is the device-local source of truth. It owns the authoritative
// dirty state: a record with synced=0 has local changes the backend has not
// confirmed. The sync engine is the only component that transitions records
// back to synced=1.
//
// The database runs in embedded mode with WAL so the UI path (logging a new
// set) and an in-flight sync pass can write concurrently. All mutation goes
// through this package's methods; each state transition is a single narrow
// statement or transaction that is never held open across a network call.
//
// Dirtying is centralized here: Update always resets synced=0 and bumps
// updated_at, so a call site cannot mutate domain fields and forget to mark
// the record for upload.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/replog/replog/internal/record"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout is the canonical timestamp encoding for the records table.
// Nanosecond precision matters: the download watermark is a strict
// greater-than comparison on updated_at, and second-granularity stamps
// would make same-second remote updates invisible.
//
// The fractional part is fixed-width, never trimmed. The watermark and the
// List ordering are computed by SQL TEXT comparison, which is only
// chronological when every stamp has the same length; RFC3339Nano trims
// trailing zeros and would sort "...05Z" after "...05.4Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = sql.ErrNoRows

// DB wraps the embedded SQLite connection holding the local record store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller must Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL keeps readers unblocked while the sync engine writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Path returns the filesystem location of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the records table and indexes if they don't exist.
// Idempotent; safe to call on every startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		fields TEXT NOT NULL,  -- JSON object of domain fields
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	-- Dirty-set scan: the upload phase reads WHERE synced = 0 per type.
	CREATE INDEX IF NOT EXISTS idx_records_dirty
	    ON records(entity_type, synced);

	-- Watermark and per-user listing.
	CREATE INDEX IF NOT EXISTS idx_records_user_updated
	    ON records(entity_type, user_id, updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Create inserts a new record. The record must already carry its
// client-assigned ID; the store never generates identifiers.
// New records are persisted dirty unless rec.Synced is set.
func (db *DB) Create(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
	INSERT INTO records (entity_type, id, user_id, fields, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.conn.ExecContext(ctx, query,
		rec.Type,
		rec.ID,
		rec.UserID,
		string(fieldsJSON),
		boolToInt(rec.Synced),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create record %s/%s: %w", rec.Type, rec.ID, err)
	}

	return nil
}

// Update replaces a record's domain fields.
//
// The record is always re-dirtied: synced is reset to 0 and updated_at is
// bumped in the same statement, so a domain mutation can never slip past
// the next upload pass.
func (db *DB) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
	UPDATE records
	SET fields = ?, synced = 0, updated_at = ?
	WHERE entity_type = ? AND id = ?
	`

	res, err := db.conn.ExecContext(ctx, query,
		string(fieldsJSON),
		time.Now().UTC().Format(timeLayout),
		entityType,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update record %s/%s: %w", entityType, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Get retrieves a single record. Returns ErrNotFound if absent.
func (db *DB) Get(ctx context.Context, entityType, id string) (record.Record, error) {
	query := `
	SELECT entity_type, id, user_id, fields, synced, created_at, updated_at
	FROM records
	WHERE entity_type = ? AND id = ?
	`

	row := db.conn.QueryRowContext(ctx, query, entityType, id)
	return scanRecord(row)
}

// List returns all records of a type for a user, newest update first.
func (db *DB) List(ctx context.Context, entityType, userID string) ([]record.Record, error) {
	query := `
	SELECT entity_type, id, user_id, fields, synced, created_at, updated_at
	FROM records
	WHERE entity_type = ? AND user_id = ?
	ORDER BY updated_at DESC
	`

	rows, err := db.conn.QueryContext(ctx, query, entityType, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DirtyRecords returns the Dirty Set for an entity type: every record with
// local changes the backend has not confirmed. The result is computed on
// demand and must not be cached beyond one sync pass.
func (db *DB) DirtyRecords(ctx context.Context, entityType string) ([]record.Record, error) {
	query := `
	SELECT entity_type, id, user_id, fields, synced, created_at, updated_at
	FROM records
	WHERE entity_type = ? AND synced = 0
	`

	rows, err := db.conn.QueryContext(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DirtyCount returns the size of the Dirty Set for an entity type.
func (db *DB) DirtyCount(ctx context.Context, entityType string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE entity_type = ? AND synced = 0",
		entityType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dirty records: %w", err)
	}
	return count, nil
}

// Count returns the total number of records of an entity type.
func (db *DB) Count(ctx context.Context, entityType string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE entity_type = ?",
		entityType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Watermark returns the download cursor for an entity type: the maximum
// updated_at among records already confirmed synced. Dirty rows are
// excluded on purpose: a local edit with a fast clock must not advance
// the cursor past remote updates the device has never seen.
//
// When no synced records exist yet the zero time is returned, which makes
// the first download fetch the entire remote set for the user.
func (db *DB) Watermark(ctx context.Context, entityType string) (time.Time, error) {
	var updatedAt sql.NullString
	err := db.conn.QueryRowContext(ctx,
		"SELECT MAX(updated_at) FROM records WHERE entity_type = ? AND synced = 1",
		entityType,
	).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute watermark: %w", err)
	}

	if !updatedAt.Valid {
		return time.Time{}, nil
	}

	t, err := time.Parse(timeLayout, updatedAt.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark timestamp: %w", err)
	}
	return t, nil
}

// MarkSynced transitions exactly one record to synced=1.
//
// The transition is conditional on updated_at still matching the snapshot
// the engine uploaded (asOf). If the user mutated the record while its
// upload was in flight, the stamp no longer matches, nothing is updated,
// and false is returned; the newer local change stays dirty for the next
// pass instead of being silently un-dirtied.
func (db *DB) MarkSynced(ctx context.Context, entityType, id string, asOf time.Time) (bool, error) {
	query := `
	UPDATE records
	SET synced = 1
	WHERE entity_type = ? AND id = ? AND updated_at = ?
	`

	res, err := db.conn.ExecContext(ctx, query,
		entityType,
		id,
		asOf.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark record %s/%s synced: %w", entityType, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read mark-synced result: %w", err)
	}

	return n > 0, nil
}

// ApplyRemote materializes a downloaded record locally.
//
// If the record is absent it is inserted already-synced; if present it is
// overwritten with the incoming full field set (last-writer-wins, no
// field-level merge) and marked synced. The upsert is idempotent, so a
// crash mid-download simply re-applies the same overlapping rows on the
// next pass.
func (db *DB) ApplyRemote(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid remote record: %w", err)
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
	INSERT INTO records (entity_type, id, user_id, fields, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(entity_type, id) DO UPDATE SET
		user_id = excluded.user_id,
		fields = excluded.fields,
		synced = 1,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		rec.Type,
		rec.ID,
		rec.UserID,
		string(fieldsJSON),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to apply remote record %s/%s: %w", rec.Type, rec.ID, err)
	}

	return nil
}

// scanRecord scans a single record from a query row.
func scanRecord(row *sql.Row) (record.Record, error) {
	var rec record.Record
	var fieldsJSON string
	var synced int
	var createdAt, updatedAt string

	err := row.Scan(
		&rec.Type,
		&rec.ID,
		&rec.UserID,
		&fieldsJSON,
		&synced,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return record.Record{}, err
	}

	if err := decodeRecord(&rec, fieldsJSON, synced, createdAt, updatedAt); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// scanRecords scans multiple records from query results.
func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	var records []record.Record

	for rows.Next() {
		var rec record.Record
		var fieldsJSON string
		var synced int
		var createdAt, updatedAt string

		err := rows.Scan(
			&rec.Type,
			&rec.ID,
			&rec.UserID,
			&fieldsJSON,
			&synced,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if err := decodeRecord(&rec, fieldsJSON, synced, createdAt, updatedAt); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// decodeRecord fills the non-column parts of a scanned record.
func decodeRecord(rec *record.Record, fieldsJSON string, synced int, createdAt, updatedAt string) error {
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return fmt.Errorf("failed to unmarshal fields for %s/%s: %w", rec.Type, rec.ID, err)
	}

	rec.Synced = synced != 0

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return fmt.Errorf("failed to parse created_at for %s/%s: %w", rec.Type, rec.ID, err)
	}
	rec.CreatedAt = t

	t, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to parse updated_at for %s/%s: %w", rec.Type, rec.ID, err)
	}
	rec.UpdatedAt = t

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
