package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/querypilot/backend/pkg/logger"
)

// Client owns the embedded store: chunk corpus with its FTS5 keyword index,
// structured and tabular rows, the template library, allowlist profiles,
// the audit trail and rate-limit session snapshots.
//
// The keyword index requires a build with the sqlite_fts5 tag.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		collection_id INTEGER NOT NULL,
		doc_name TEXT NOT NULL,
		page_number INTEGER DEFAULT 0,
		page_offset INTEGER DEFAULT 0,
		content TEXT NOT NULL,
		embedding_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		collection_id UNINDEXED,
		content
	);

	CREATE TABLE IF NOT EXISTS structured_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection_id INTEGER NOT NULL,
		category TEXT,
		source TEXT,
		title TEXT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_structured_collection ON structured_rows(collection_id);
	CREATE INDEX IF NOT EXISTS idx_structured_category ON structured_rows(collection_id, category);
	CREATE INDEX IF NOT EXISTS idx_structured_source ON structured_rows(collection_id, source);

	CREATE TABLE IF NOT EXISTS tabular_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection_id INTEGER NOT NULL,
		doc_name TEXT,
		row_index INTEGER,
		columns TEXT NOT NULL,
		raw TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tabular_collection ON tabular_rows(collection_id);

	CREATE TABLE IF NOT EXISTS query_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		intent_keywords TEXT NOT NULL,
		example_question TEXT,
		query_pattern TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		tables_used TEXT NOT NULL,
		priority INTEGER DEFAULT 0,
		is_enabled INTEGER DEFAULT 1,
		is_pattern_agnostic INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS allowlist_profiles (
		collection_id INTEGER PRIMARY KEY,
		tables_json TEXT NOT NULL,
		default_table TEXT,
		max_limit INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		collection_id INTEGER NOT NULL,
		user_query_hash TEXT NOT NULL,
		intent TEXT,
		plan_json TEXT,
		compiled_sql TEXT,
		params_json TEXT,
		row_count INTEGER,
		latency_ms INTEGER,
		llm_route TEXT,
		sent_context_chars INTEGER,
		template_id TEXT,
		template_name TEXT,
		template_match_count INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_collection ON audit_log(collection_id, created_at);

	CREATE TABLE IF NOT EXISTS rate_limit_sessions (
		collection_id INTEGER PRIMARY KEY,
		queries_count INTEGER NOT NULL,
		blocked_count INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}
