package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// listMissingChunk bounds the number of placeholders per membership query
const listMissingChunk = 100

// ErrNoRevision is returned when a tenant has never had a revision uploaded
var ErrNoRevision = errors.New("no revision uploaded")

// Revision is one row of the revisions log
type Revision struct {
	ID         string
	BlobKey    string
	UploadedAt time.Time
}

// Store is the metadata database of one tenant
type Store struct {
	db *sql.DB
}

// Path returns the location of a tenant's metadata database
func Path(tenantBaseDir string) string {
	return filepath.Join(tenantBaseDir, ".internal", "meta.db")
}

// Open opens (creating if needed) the database for a tenant base dir
func Open(tenantBaseDir string) (*Store, error) {
	path := Path(tenantBaseDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db: %w", err)
	}
	db.SetMaxOpenConns(4)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema exists
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS objectstore_entries (
		key TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS revisions (
		id TEXT PRIMARY KEY,
		blob_key TEXT NOT NULL,
		uploaded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// ListMissing returns the keys that have no objectstore_entries row, in
// the order they were given. Duplicates in keys are reported once.
func (s *Store) ListMissing(ctx context.Context, keys []string) ([]string, error) {
	present := make(map[string]struct{}, len(keys))
	for start := 0; start < len(keys); start += listMissingChunk {
		end := min(start+listMissingChunk, len(keys))
		chunk := keys[start:end]

		query := "SELECT key FROM objectstore_entries WHERE key IN (" +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query objectstore entries: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan objectstore entry: %w", err)
			}
			present[key] = struct{}{}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate objectstore entries: %w", err)
		}
	}

	missing := []string{}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := present[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		missing = append(missing, k)
	}
	return missing, nil
}

// HasKey reports whether key is recorded as present
func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, "SELECT key FROM objectstore_entries WHERE key = ?", key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query objectstore entry: %w", err)
	}
	return true, nil
}

// MarkPresent records keys as present in the blob store
func (s *Store) MarkPresent(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO objectstore_entries (key) VALUES (?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("failed to record %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit objectstore entries: %w", err)
	}
	return nil
}

// RecordRevision appends a revision to the log
func (s *Store) RecordRevision(ctx context.Context, id, blobKey string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO revisions (id, blob_key, uploaded_at) VALUES (?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'))",
		id, blobKey)
	if err != nil {
		return fmt.Errorf("failed to record revision %s: %w", id, err)
	}
	return nil
}

// LatestRevision returns the most recently uploaded revision
func (s *Store) LatestRevision(ctx context.Context) (*Revision, error) {
	var (
		rev        Revision
		uploadedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, blob_key, uploaded_at FROM revisions ORDER BY uploaded_at DESC, rowid DESC LIMIT 1",
	).Scan(&rev.ID, &rev.BlobKey, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRevision
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest revision: %w", err)
	}
	rev.UploadedAt, _ = time.Parse("2006-01-02 15:04:05.000", uploadedAt)
	return &rev, nil
}
