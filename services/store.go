package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/r0xsh/spotizerr/types"
)

// QueueStore interface defines the persistence boundary for the
// download queue. Implementations serialize the full record set so a
// restart can rehydrate every job that was in flight.
type QueueStore interface {
	LoadAll(ctx context.Context) ([]*types.JobRecord, error)
	Save(ctx context.Context, record *types.JobRecord) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// sqliteStore persists records in a single SQLite table keyed by
// record id, with the record itself stored as a JSON document
type sqliteStore struct {
	db   *sql.DB
	path string
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS download_queue (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
`

// NewQueueStore opens (or creates) the queue database at path
func NewQueueStore(path string) (QueueStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create queue db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &sqliteStore{db: db, path: path}, nil
}

// LoadAll deserializes the full record set. Individual malformed rows
// are dropped with a warning instead of failing the whole load, and
// unknown JSON fields are ignored so records written by newer versions
// still parse.
func (s *sqliteStore) LoadAll(ctx context.Context) ([]*types.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM download_queue ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	var records []*types.JobRecord
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}

		record, err := decodeRecord(id, data)
		if err != nil {
			log.Printf("Dropping malformed queue record %s: %v", id, err)
			continue
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// decodeRecord validates the fields the queue depends on; anything
// else in the document is ignored
func decodeRecord(id, data string) (*types.JobRecord, error) {
	var record types.JobRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = id
	}
	if record.ID != id {
		return nil, fmt.Errorf("record id %q does not match row key %q", record.ID, id)
	}
	if record.ProgressHandle == "" {
		return nil, fmt.Errorf("record has no progress handle")
	}
	if !types.KnownKind(record.Kind) {
		return nil, fmt.Errorf("unknown kind %q", record.Kind)
	}
	if !types.KnownStatus(record.Status) {
		return nil, fmt.Errorf("unknown status %q", record.Status)
	}
	return &record, nil
}

// Save upserts one record
func (s *sqliteStore) Save(ctx context.Context, record *types.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO download_queue (id, status, created_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		record.ID, string(record.Status), record.CreatedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("save record %s: %w", record.ID, err)
	}
	return nil
}

// Delete removes one record
func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database
func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
