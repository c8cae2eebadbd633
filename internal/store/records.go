package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/persist"
)

// Record is one named metadata record.
type Record struct {
	Key           string
	SchemaVersion int
	Value         string
	UpdatedAt     int64
}

// GetRecord returns the record with the given key, or nil if not found.
func (db *DB) GetRecord(ctx context.Context, key string) (*Record, error) {
	var r Record
	err := db.QueryRowContext(ctx, `
		SELECT key, schema_version, value, updated_at FROM records WHERE key = ?
	`, key).Scan(&r.Key, &r.SchemaVersion, &r.Value, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &r, nil
}

// PutRecord overwrites the record wholesale. A write that exceeds the
// database quota returns an error wrapping persist.ErrStoreFull.
func (db *DB) PutRecord(ctx context.Context, key string, schemaVersion int, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO records (key, schema_version, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET schema_version = ?, value = ?, updated_at = ?
	`, key, schemaVersion, value, now,
		schemaVersion, value, now)
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("put record %s: %w", key, persist.ErrStoreFull)
		}
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

// DeleteRecord removes a record. Deleting a missing record is not an error.
func (db *DB) DeleteRecord(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func isFull(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_FULL {
		return true
	}
	return strings.Contains(err.Error(), "database or disk is full")
}

// Records adapts the DB to persist.MetadataStore.
type Records struct {
	DB *DB
}

func (r Records) Get(ctx context.Context, key string) (string, bool, error) {
	rec, err := r.DB.GetRecord(ctx, key)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (r Records) Put(ctx context.Context, key, value string) error {
	return r.DB.PutRecord(ctx, key, board.SchemaVersion, value)
}
