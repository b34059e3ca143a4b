package dedup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"prospector/internal/logging"
	"prospector/internal/types"
)

// SQLiteStore is the authoritative dedup tier. Uniqueness constraints in
// the schema make the mark operations the serializing point.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the dedup database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryDedup, "NewSQLiteStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Dedup("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Dedup("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Dedup("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing handle; the session store and the
// dedup store can share one database file.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS visited_urls (
		url         TEXT NOT NULL,
		research_id TEXT NOT NULL DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(url, research_id)
	);
	CREATE INDEX IF NOT EXISTS idx_visited_urls_research ON visited_urls(research_id);

	CREATE TABLE IF NOT EXISTS known_entities (
		canonical_name TEXT PRIMARY KEY,
		attributes     TEXT NOT NULL DEFAULT '{}',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize dedup schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsURLVisited checks the visited set for (url, research_id).
func (s *SQLiteStore) IsURLVisited(ctx context.Context, url, researchID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM visited_urls WHERE url = ? AND research_id = ?`,
		url, researchID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is_url_visited: %w", err)
	}
	return true, nil
}

// MarkURLVisited atomically inserts if absent. The affected-row count
// distinguishes the winner from race losers.
func (s *SQLiteStore) MarkURLVisited(ctx context.Context, url, researchID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO visited_urls (url, research_id) VALUES (?, ?)`,
		url, researchID)
	if err != nil {
		return false, fmt.Errorf("mark_url_visited: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark_url_visited rows: %w", err)
	}
	return n > 0, nil
}

// IsEntityKnown checks the global knowledge base.
func (s *SQLiteStore) IsEntityKnown(ctx context.Context, canonicalName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM known_entities WHERE canonical_name = ?`, canonicalName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is_entity_known: %w", err)
	}
	return true, nil
}

// MarkEntityKnown inserts a new entity or merges attributes into an
// existing one. Fill-only merge: real values land only in missing or
// "Unknown" slots. Returns true iff the entity was newly inserted.
func (s *SQLiteStore) MarkEntityKnown(ctx context.Context, canonicalName string, attributes map[string]string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mark_entity_known begin: %w", err)
	}
	defer tx.Rollback()

	var existingJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT attributes FROM known_entities WHERE canonical_name = ?`,
		canonicalName).Scan(&existingJSON)

	switch {
	case err == sql.ErrNoRows:
		attrJSON, merr := json.Marshal(nonEmpty(attributes))
		if merr != nil {
			return false, fmt.Errorf("mark_entity_known marshal: %w", merr)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO known_entities (canonical_name, attributes) VALUES (?, ?)`,
			canonicalName, string(attrJSON))
		if err != nil {
			// Race: another caller inserted between our read and write.
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY KEY") {
				return false, nil
			}
			return false, fmt.Errorf("mark_entity_known insert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("mark_entity_known commit: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("mark_entity_known select: %w", err)
	}

	// Existing entity: merge fill-only, persist only on change.
	existing := map[string]string{}
	if existingJSON != "" {
		if uerr := json.Unmarshal([]byte(existingJSON), &existing); uerr != nil {
			logging.Dedup("corrupt attributes for %s, resetting: %v", canonicalName, uerr)
			existing = map[string]string{}
		}
	}
	changed := false
	for k, v := range attributes {
		if !types.AttributeKnown(v) {
			continue
		}
		if !types.AttributeKnown(existing[k]) {
			existing[k] = v
			changed = true
		}
	}
	if changed {
		attrJSON, merr := json.Marshal(existing)
		if merr != nil {
			return false, fmt.Errorf("mark_entity_known marshal: %w", merr)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE known_entities SET attributes = ? WHERE canonical_name = ?`,
			string(attrJSON), canonicalName); err != nil {
			return false, fmt.Errorf("mark_entity_known update: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark_entity_known commit: %w", err)
	}
	return false, nil
}

// EntityAttributes returns the stored attribute map for an entity.
func (s *SQLiteStore) EntityAttributes(ctx context.Context, canonicalName string) (map[string]string, error) {
	var attrJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT attributes FROM known_entities WHERE canonical_name = ?`,
		canonicalName).Scan(&attrJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entity_attributes: %w", err)
	}
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(attrJSON), &attrs); err != nil {
		return nil, fmt.Errorf("entity_attributes parse: %w", err)
	}
	return attrs, nil
}

func nonEmpty(attrs map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range attrs {
		if types.AttributeKnown(v) {
			out[k] = v
		}
	}
	return out
}
