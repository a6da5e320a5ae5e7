// Package storage is the durable archive behind the registry: every patch,
// hunk, and decision is mirrored into SQLite. The registry stays
// authoritative for live state; the archive exists for the decision log and
// for id continuity across restarts.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/connor15mcc/patchpal/internal/config"
	"github.com/connor15mcc/patchpal/internal/registry"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS patches (
  id INTEGER PRIMARY KEY,
  session_id TEXT NOT NULL,
  repo_ref TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  metadata TEXT NOT NULL DEFAULT '',
  submitted_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hunks (
  id INTEGER PRIMARY KEY,
  patch_id INTEGER NOT NULL REFERENCES patches(id),
  file_path TEXT NOT NULL,
  header TEXT NOT NULL,
  content TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','under_review','accepted','rejected','cancelled'))
);

CREATE TABLE IF NOT EXISTS decisions (
  hunk_id INTEGER PRIMARY KEY REFERENCES hunks(id),
  outcome TEXT NOT NULL CHECK(outcome IN ('accepted','rejected')),
  reviewer TEXT NOT NULL,
  decided_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hunks_patch ON hunks(patch_id);
CREATE INDEX IF NOT EXISTS idx_hunks_status ON hunks(status);
CREATE INDEX IF NOT EXISTS idx_patches_fingerprint ON patches(fingerprint);
`

type DB struct {
	*sql.DB
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	return filepath.Join(config.DataDir(), "patchpal.db")
}

// Open opens or creates the database at the given path
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode and busy timeout so the console and session goroutines can
	// write concurrently
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	wrapped := &DB{db}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return wrapped, nil
}

// migrate runs any needed migrations for existing databases
func (db *DB) migrate() error {
	// Migration: add metadata column to patches if missing (pre-0.2 schema)
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('patches') WHERE name = 'metadata'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check metadata column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE patches ADD COLUMN metadata TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add metadata column: %w", err)
		}
	}
	return nil
}

// SavePatch archives a committed submission with all its hunks.
// Implements registry.DecisionSink.
func (db *DB) SavePatch(p *registry.Patch) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO patches (id, session_id, repo_ref, fingerprint, metadata, submitted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.RepoRef, p.Fingerprint, p.Metadata, p.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert patch %d: %w", p.ID, err)
	}

	for _, h := range p.Hunks {
		_, err = tx.Exec(
			`INSERT INTO hunks (id, patch_id, file_path, header, content, status) VALUES (?, ?, ?, ?, ?, ?)`,
			h.ID, h.PatchID, h.Path, h.Header, h.Content, string(h.Status),
		)
		if err != nil {
			return fmt.Errorf("insert hunk %d: %w", h.ID, err)
		}
	}

	return tx.Commit()
}

// SaveDecision appends one immutable decision record.
// Implements registry.DecisionSink.
func (db *DB) SaveDecision(d registry.Decision) error {
	_, err := db.Exec(
		`INSERT INTO decisions (hunk_id, outcome, reviewer, decided_at) VALUES (?, ?, ?, ?)`,
		d.HunkID, string(d.Outcome), d.Reviewer, d.DecidedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision for hunk %d: %w", d.HunkID, err)
	}
	return nil
}

// UpdateHunkStatus mirrors a registry status transition.
// Implements registry.DecisionSink.
func (db *DB) UpdateHunkStatus(hunkID uint64, status registry.HunkStatus) error {
	res, err := db.Exec(`UPDATE hunks SET status = ? WHERE id = ?`, string(status), hunkID)
	if err != nil {
		return fmt.Errorf("update hunk %d: %w", hunkID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update hunk %d: not archived", hunkID)
	}
	return nil
}

// MaxIDs returns the highest archived patch and hunk ids, so a restarted
// server can seed the registry counters and keep ids monotonic.
func (db *DB) MaxIDs() (maxPatchID, maxHunkID uint64, err error) {
	err = db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM patches`).Scan(&maxPatchID)
	if err != nil {
		return 0, 0, fmt.Errorf("max patch id: %w", err)
	}
	err = db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM hunks`).Scan(&maxHunkID)
	if err != nil {
		return 0, 0, fmt.Errorf("max hunk id: %w", err)
	}
	return maxPatchID, maxHunkID, nil
}

// DecisionRecord is a decision joined with its hunk and patch for display
type DecisionRecord struct {
	HunkID    uint64    `json:"hunk_id"`
	PatchID   uint64    `json:"patch_id"`
	FilePath  string    `json:"file_path"`
	RepoRef   string    `json:"repo_ref"`
	Outcome   string    `json:"outcome"`
	Reviewer  string    `json:"reviewer"`
	DecidedAt time.Time `json:"decided_at"`
}

// RecentDecisions returns the newest decisions, most recent first
func (db *DB) RecentDecisions(limit int) ([]DecisionRecord, error) {
	rows, err := db.Query(`
		SELECT d.hunk_id, h.patch_id, h.file_path, p.repo_ref, d.outcome, d.reviewer, d.decided_at
		FROM decisions d
		JOIN hunks h ON h.id = d.hunk_id
		JOIN patches p ON p.id = h.patch_id
		ORDER BY d.decided_at DESC, d.hunk_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var decidedAt string
		if err := rows.Scan(&rec.HunkID, &rec.PatchID, &rec.FilePath, &rec.RepoRef, &rec.Outcome, &rec.Reviewer, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.DecidedAt, _ = time.Parse(time.RFC3339Nano, decidedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PatchCount returns the total number of archived patches
func (db *DB) PatchCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM patches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patches: %w", err)
	}
	return n, nil
}
