package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"prospector/internal/logging"
	"prospector/internal/types"
)

// SQLiteStore implements SessionStore on sqlite. One session row carries
// the serialized ResearchState; entities and evidence additionally live in
// relational tables for external readers.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore initializes the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing session store at path: %s", path)

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
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Session store schema initialized")
	return s, nil
}

// DB exposes the handle so the dedup store can share the database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS research_sessions (
		session_id TEXT PRIMARY KEY,
		topic      TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'initialized',
		logs       TEXT NOT NULL DEFAULT '[]',
		state_dump TEXT NOT NULL DEFAULT '{}',
		total_cost REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entities (
		canonical_name      TEXT PRIMARY KEY,
		aliases             TEXT NOT NULL DEFAULT '[]',
		attributes          TEXT NOT NULL DEFAULT '{}',
		mention_count       INTEGER NOT NULL DEFAULT 0,
		verification_status TEXT NOT NULL DEFAULT 'UNVERIFIED',
		rejection_reason    TEXT,
		confidence_score    REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_name TEXT NOT NULL REFERENCES entities(canonical_name),
		source_url  TEXT NOT NULL,
		content     TEXT NOT NULL,
		timestamp   TEXT,
		UNIQUE(entity_name, source_url, content)
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_entity ON evidence(entity_name);

	CREATE TABLE IF NOT EXISTS worker_logs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		research_id    TEXT NOT NULL,
		worker_id      TEXT NOT NULL,
		pages_fetched  INTEGER NOT NULL DEFAULT 0,
		entities_found INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_worker_logs_research ON worker_logs(research_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return nil
}

// SaveSession upserts the session row and persists its entities.
func (s *SQLiteStore) SaveSession(ctx context.Context, state *types.ResearchState) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSession")
	defer timer.Stop()

	dump, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("save_session marshal: %w", err)
	}
	logsJSON, err := json.Marshal(state.Logs)
	if err != nil {
		return fmt.Errorf("save_session logs marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_sessions (session_id, topic, status, logs, state_dump, total_cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			topic      = excluded.topic,
			status     = excluded.status,
			logs       = excluded.logs,
			state_dump = excluded.state_dump,
			total_cost = excluded.total_cost,
			updated_at = CURRENT_TIMESTAMP`,
		state.ID, state.Topic, string(state.Status), string(logsJSON), string(dump), state.TotalCost)
	if err != nil {
		return fmt.Errorf("save_session: %w", err)
	}

	for _, entity := range state.KnownEntities {
		if err := s.SaveEntity(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// GetSession reconstructs the state from its serialized dump.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.ResearchState, error) {
	var dump string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_dump FROM research_sessions WHERE session_id = ?`, id).Scan(&dump)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_session: %w", err)
	}

	var state types.ResearchState
	if err := json.Unmarshal([]byte(dump), &state); err != nil {
		return nil, fmt.Errorf("get_session parse: %w", err)
	}
	return &state, nil
}

// ListSessions returns recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, topic, status, state_dump, total_cost, updated_at
		FROM research_sessions
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list_sessions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var summary types.SessionSummary
		var status, dump string
		var updatedAt time.Time
		if err := rows.Scan(&summary.ID, &summary.Topic, &status, &dump, &summary.TotalCost, &updatedAt); err != nil {
			return nil, fmt.Errorf("list_sessions scan: %w", err)
		}
		summary.Status = types.SessionStatus(status)
		summary.UpdatedAt = updatedAt

		var state struct {
			KnownEntities map[string]json.RawMessage `json:"known_entities"`
		}
		if err := json.Unmarshal([]byte(dump), &state); err == nil {
			summary.EntityCount = len(state.KnownEntities)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// SaveEntity upserts the entity row and appends only new evidence.
func (s *SQLiteStore) SaveEntity(ctx context.Context, entity *types.Entity) error {
	aliasesJSON, err := json.Marshal(entity.Aliases)
	if err != nil {
		return fmt.Errorf("save_entity aliases marshal: %w", err)
	}
	attrsJSON, err := json.Marshal(entity.Attributes)
	if err != nil {
		return fmt.Errorf("save_entity attributes marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities
			(canonical_name, aliases, attributes, mention_count, verification_status, rejection_reason, confidence_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_name) DO UPDATE SET
			aliases             = excluded.aliases,
			attributes          = excluded.attributes,
			mention_count       = excluded.mention_count,
			verification_status = excluded.verification_status,
			rejection_reason    = excluded.rejection_reason,
			confidence_score    = excluded.confidence_score`,
		entity.CanonicalName, string(aliasesJSON), string(attrsJSON), entity.MentionCount,
		string(entity.VerificationStatus), entity.RejectionReason, entity.ConfidenceScore)
	if err != nil {
		return fmt.Errorf("save_entity: %w", err)
	}

	// The UNIQUE constraint keeps evidence append-only without duplicates.
	for _, ev := range entity.Evidence {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO evidence (entity_name, source_url, content, timestamp)
			VALUES (?, ?, ?, ?)`,
			entity.CanonicalName, ev.SourceURL, ev.Content, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("save_entity evidence: %w", err)
		}
	}
	return nil
}

// SaveEntitiesBatch persists a set of entities.
func (s *SQLiteStore) SaveEntitiesBatch(ctx context.Context, entities []*types.Entity) error {
	for _, entity := range entities {
		if err := s.SaveEntity(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWorkerMetrics appends a worker progress row.
func (s *SQLiteStore) UpdateWorkerMetrics(ctx context.Context, researchID, workerID string, pagesFetched, entitiesFound int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_logs (research_id, worker_id, pages_fetched, entities_found)
		VALUES (?, ?, ?, ?)`,
		researchID, workerID, pagesFetched, entitiesFound)
	if err != nil {
		return fmt.Errorf("update_worker_metrics: %w", err)
	}
	return nil
}

// GetEntity hydrates one entity with its evidence rows.
func (s *SQLiteStore) GetEntity(ctx context.Context, canonicalName string) (*types.Entity, error) {
	var entity types.Entity
	var aliasesJSON, attrsJSON, status string
	var rejection sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT canonical_name, aliases, attributes, mention_count, verification_status, rejection_reason, confidence_score
		FROM entities WHERE canonical_name = ?`, canonicalName).Scan(
		&entity.CanonicalName, &aliasesJSON, &attrsJSON, &entity.MentionCount,
		&status, &rejection, &entity.ConfidenceScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_entity: %w", err)
	}
	entity.VerificationStatus = types.VerificationStatus(status)
	entity.RejectionReason = rejection.String
	if err := json.Unmarshal([]byte(aliasesJSON), &entity.Aliases); err != nil {
		return nil, fmt.Errorf("get_entity aliases: %w", err)
	}
	if err := json.Unmarshal([]byte(attrsJSON), &entity.Attributes); err != nil {
		return nil, fmt.Errorf("get_entity attributes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_url, content, timestamp FROM evidence
		WHERE entity_name = ? ORDER BY id`, canonicalName)
	if err != nil {
		return nil, fmt.Errorf("get_entity evidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev types.EvidenceSnippet
		var ts sql.NullString
		if err := rows.Scan(&ev.SourceURL, &ev.Content, &ts); err != nil {
			return nil, fmt.Errorf("get_entity evidence scan: %w", err)
		}
		ev.Timestamp = ts.String
		entity.Evidence = append(entity.Evidence, ev)
	}
	return &entity, rows.Err()
}
