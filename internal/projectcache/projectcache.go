// Package projectcache computes and memoizes project_id (spec §3: "a
// stable hash of canonicalised repo path"). Memoization is a
// supplemental feature (SPEC_FULL.md §E.3): the computed value itself
// is unaffected by cache hit or miss, only repeated recomputation is
// avoided across process restarts.
package projectcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ComputeProjectID returns the stable hex project_id for canonicalPath.
// Identical inputs always produce identical ids across processes, per
// spec §3's identifier rule.
func ComputeProjectID(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Cache persists canonical-path -> project_id mappings in a small
// sqlite database, via modernc.org/sqlite (the teacher's own pure-Go
// sqlite driver, previously wired only to kojo's now-removed GUI
// surface).
type Cache struct {
	db *sql.DB
}

// Open creates/opens the cache database at dbPath.
func Open(dbPath string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS project_ids (
		canonical_path TEXT PRIMARY KEY,
		project_id TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// ProjectID returns the memoized project_id for canonicalPath,
// computing and storing it on first lookup.
func (c *Cache) ProjectID(canonicalPath string) (string, error) {
	var id string
	err := c.db.QueryRow(`SELECT project_id FROM project_ids WHERE canonical_path = ?`, canonicalPath).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = ComputeProjectID(canonicalPath)
	if _, err := c.db.Exec(`INSERT OR REPLACE INTO project_ids (canonical_path, project_id) VALUES (?, ?)`, canonicalPath, id); err != nil {
		return "", err
	}
	return id, nil
}
