package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mediadupfinder/internal/models"
)

// Cache persists fingerprints between scans. An entry is only returned when
// the file's size, modification time and the fingerprint settings all match
// what was recorded.
type Cache struct {
	db        *sql.DB
	dbPath    string
	signature string
}

// OpenCache opens or creates the cache database at dbPath. signature
// identifies the settings that produced the cached fingerprints.
func OpenCache(dbPath, signature string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// scan workers share one writer
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, dbPath: dbPath, signature: signature}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

const schemaVersion = 2

// migrations must be idempotent
var migrations = []struct {
	version     int
	description string
	up          string
}{
	{
		version:     1,
		description: "Initial schema",
		up:          "", // base schema
	},
	{
		version:     2,
		description: "Add kind column for per-kind pruning",
		up: `
			ALTER TABLE fingerprints ADD COLUMN kind TEXT NOT NULL DEFAULT '';
			CREATE INDEX IF NOT EXISTS idx_fingerprints_kind ON fingerprints(kind);
		`,
	},
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		signature TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scan_history (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		total_files INTEGER NOT NULL,
		total_groups INTEGER NOT NULL,
		total_duplicates INTEGER NOT NULL,
		total_errors INTEGER NOT NULL
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := c.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (c *Cache) migrate() error {
	current := c.appliedVersion()

	for _, m := range migrations {
		if m.version <= current || m.up == "" {
			continue
		}

		if m.version == 2 && c.columnExists("fingerprints", "kind") {
			c.setSchemaVersion(m.version)
			continue
		}

		if _, err := c.db.Exec(m.up); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		c.setSchemaVersion(m.version)
	}
	return nil
}

func (c *Cache) appliedVersion() int {
	var version int
	if err := c.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0
	}
	return version
}

func (c *Cache) setSchemaVersion(version int) {
	c.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
}

func (c *Cache) columnExists(table, column string) bool {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	return err == nil && count > 0
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached fingerprint for f, or false on a miss
func (c *Cache) Get(ctx context.Context, f models.MediaFile) (*models.Fingerprint, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT data FROM fingerprints
		WHERE path = ? AND size = ? AND mod_time = ? AND signature = ?
	`, f.Path, f.Size, f.ModTime.UnixNano(), c.signature).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query fingerprint for %s: %w", f.Path, err)
	}

	var fp models.Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		// stale encoding, treat as a miss
		return nil, false, nil
	}
	fp.File = f
	return &fp, true, nil
}

// Put stores fp, replacing any previous entry for the same path
func (c *Cache) Put(ctx context.Context, fp *models.Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint for %s: %w", fp.File.Path, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fingerprints (path, size, mod_time, signature, kind, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fp.File.Path, fp.File.Size, fp.File.ModTime.UnixNano(), c.signature, fp.File.Kind.String(), data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store fingerprint for %s: %w", fp.File.Path, err)
	}
	return nil
}

// Delete forgets the entry for path
func (c *Cache) Delete(ctx context.Context, path string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE path = ?`, path)
	return err
}

// Prune removes entries recorded under other settings and entries whose file
// no longer exists. It returns the number of entries removed.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE signature != ?`, c.signature)
	if err != nil {
		return 0, fmt.Errorf("failed to prune fingerprints: %w", err)
	}
	removed, _ := res.RowsAffected()

	rows, err := c.db.QueryContext(ctx, `SELECT path FROM fingerprints`)
	if err != nil {
		return removed, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	var gone []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return removed, fmt.Errorf("failed to scan row: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			gone = append(gone, path)
		}
	}
	rows.Close()

	for _, path := range gone {
		if err := c.Delete(ctx, path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Count returns the number of cached fingerprints
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n)
	return n, err
}

// RecordScan appends a summary of a finished scan to the history
func (c *Cache) RecordScan(ctx context.Context, r *models.ScanResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scan_history (id, started_at, duration_ms, total_files, total_groups, total_duplicates, total_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UnixNano(), r.Duration.Milliseconds(), r.TotalFiles, len(r.Groups), r.TotalDuplicates(), len(r.Errors))
	return err
}

// ScanRecord is one row of scan history
type ScanRecord struct {
	ID              string
	StartedAt       time.Time
	Duration        time.Duration
	TotalFiles      int
	TotalGroups     int
	TotalDuplicates int
	TotalErrors     int
}

// History returns the most recent scans, newest first
func (c *Cache) History(ctx context.Context, limit int) ([]ScanRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, total_files, total_groups, total_duplicates, total_errors
		FROM scan_history
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var r ScanRecord
		var started, ms int64
		if err := rows.Scan(&r.ID, &started, &ms, &r.TotalFiles, &r.TotalGroups, &r.TotalDuplicates, &r.TotalErrors); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
