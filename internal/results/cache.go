// Package results memoizes computed analysis outputs keyed by a
// fingerprint of the query that produced them. Staleness is detected
// lazily at read time by comparing the stored watermark against the
// entity store's current metadata; nothing is pushed at write time.
package results

import (
	"bytes"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JohanCodinha/prcache/internal/freshness"
	"github.com/JohanCodinha/prcache/internal/models"
)

// resultsDBFile is the results record inside the cache directory.
const resultsDBFile = "results.db"

const createResultsTableSQL = `
CREATE TABLE IF NOT EXISTS results (
    fingerprint TEXT PRIMARY KEY,
    computed_at TEXT NOT NULL,
    watermark TEXT NOT NULL,
    params TEXT NOT NULL,
    payload BLOB NOT NULL
);
`

// Cache stores computed analysis payloads in a SQLite file next to the
// entity records.
type Cache struct {
	path string
	conn *sql.DB
}

// Open creates or opens the results cache inside the given cache
// directory.
func Open(dir string) (*Cache, error) {
	path := filepath.Join(dir, resultsDBFile)
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results cache: %w", err)
	}

	// SQLite only supports a single writer; one connection avoids
	// "database is locked" errors when a sync and a read overlap.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(createResultsTableSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}

	return &Cache{path: path, conn: conn}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Get returns the memoized payload for the query, or a miss. An entry
// is a miss when it does not exist, when its recorded params differ
// from the current query, or when any covered repository has synced
// data newer than the entry's watermark.
func (c *Cache) Get(params Params, meta models.Metadata) ([]byte, bool, error) {
	fp, err := params.Fingerprint()
	if err != nil {
		return nil, false, fmt.Errorf("failed to fingerprint query: %w", err)
	}

	var watermarkStr, storedParams string
	var payload []byte
	row := c.conn.QueryRow(
		"SELECT watermark, params, payload FROM results WHERE fingerprint = ?", fp)
	if err := row.Scan(&watermarkStr, &storedParams, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query results cache: %w", err)
	}

	encoded, err := params.encode()
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode params: %w", err)
	}
	if !bytes.Equal(encoded, []byte(storedParams)) {
		return nil, false, nil
	}

	watermark, err := time.Parse(time.RFC3339Nano, watermarkStr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse stored watermark: %w", err)
	}
	if !freshness.Valid(watermark, params.Repositories, meta) {
		return nil, false, nil
	}

	return payload, true, nil
}

// Put stores or replaces the entry for the query. Replacement is always
// whole-entry; an existing payload is never partially updated.
func (c *Cache) Put(params Params, payload []byte, watermark time.Time) error {
	fp, err := params.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to fingerprint query: %w", err)
	}
	encoded, err := params.encode()
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	_, err = c.conn.Exec(`
		INSERT OR REPLACE INTO results (fingerprint, computed_at, watermark, params, payload)
		VALUES (?, ?, ?, ?, ?)`,
		fp,
		time.Now().UTC().Format(time.RFC3339Nano),
		watermark.UTC().Format(time.RFC3339Nano),
		string(encoded),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Clear removes a single entry by query. Clearing an unknown entry is a
// no-op.
func (c *Cache) Clear(params Params) error {
	fp, err := params.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to fingerprint query: %w", err)
	}
	if _, err := c.conn.Exec("DELETE FROM results WHERE fingerprint = ?", fp); err != nil {
		return fmt.Errorf("failed to clear result: %w", err)
	}
	return nil
}

// ClearAll removes every memoized result.
func (c *Cache) ClearAll() error {
	if _, err := c.conn.Exec("DELETE FROM results"); err != nil {
		return fmt.Errorf("failed to clear results cache: %w", err)
	}
	return nil
}

// Info reports the entry count and total payload bytes, for the status
// command.
func (c *Cache) Info() (entries int, payloadBytes int64, err error) {
	row := c.conn.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM results")
	if err := row.Scan(&entries, &payloadBytes); err != nil {
		return 0, 0, fmt.Errorf("failed to query results cache info: %w", err)
	}
	return entries, payloadBytes, nil
}

// PruneOlderThan removes entries computed before the cutoff and returns
// how many were removed. Entries whose computed_at cannot be parsed are
// removed too.
func (c *Cache) PruneOlderThan(age time.Duration, now time.Time) (int, error) {
	rows, err := c.conn.Query("SELECT fingerprint, computed_at FROM results")
	if err != nil {
		return 0, fmt.Errorf("failed to query results cache: %w", err)
	}
	defer rows.Close()

	cutoff := now.Add(-age)
	var stale []string
	for rows.Next() {
		var fp, computedAt string
		if err := rows.Scan(&fp, &computedAt); err != nil {
			return 0, fmt.Errorf("failed to scan result row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, computedAt)
		if err != nil || t.Before(cutoff) {
			stale = append(stale, fp)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating result rows: %w", err)
	}

	for _, fp := range stale {
		if _, err := c.conn.Exec("DELETE FROM results WHERE fingerprint = ?", fp); err != nil {
			return 0, fmt.Errorf("failed to prune result: %w", err)
		}
	}
	return len(stale), nil
}
