package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cortexmem/cortex/pkg/model"
)

// Schema changes append a new entry; the applied version lives in the
// meta table.
var migrations = []string{
	// v1: full initial schema.
	`
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		config     TEXT NOT NULL DEFAULT '{}',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		agent_id      TEXT NOT NULL,
		layer         TEXT NOT NULL,
		category      TEXT NOT NULL,
		content       TEXT NOT NULL,
		importance    REAL NOT NULL DEFAULT 0.5,
		confidence    REAL NOT NULL DEFAULT 0.5,
		decay_score   REAL NOT NULL DEFAULT 1.0,
		access_count  INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		expires_at    TIMESTAMP,
		superseded_by TEXT NOT NULL DEFAULT '',
		is_pinned     INTEGER NOT NULL DEFAULT 0,
		source        TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_memories_agent_layer ON memories(agent_id, layer);
	CREATE INDEX IF NOT EXISTS idx_memories_agent_category ON memories(agent_id, category);
	CREATE INDEX IF NOT EXISTS idx_memories_superseded ON memories(superseded_by);
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content='memories',
		content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;

	CREATE TABLE IF NOT EXISTS relations (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		subject    TEXT NOT NULL,
		predicate  TEXT NOT NULL,
		object     TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		memory_id  TEXT NOT NULL DEFAULT '',
		expired    INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(agent_id, subject, predicate, object)
	);

	CREATE INDEX IF NOT EXISTS idx_relations_agent ON relations(agent_id);

	CREATE TABLE IF NOT EXISTS extraction_logs (
		id               TEXT PRIMARY KEY,
		agent_id         TEXT NOT NULL,
		session_id       TEXT NOT NULL DEFAULT '',
		channel          TEXT NOT NULL,
		exchange_preview TEXT NOT NULL DEFAULT '',
		raw_output       TEXT NOT NULL DEFAULT '',
		parsed_memories  INTEGER NOT NULL DEFAULT 0,
		written          INTEGER NOT NULL DEFAULT 0,
		deduplicated     INTEGER NOT NULL DEFAULT 0,
		smart_updated    INTEGER NOT NULL DEFAULT 0,
		latency_ms       INTEGER NOT NULL DEFAULT 0,
		error            TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_agent ON extraction_logs(agent_id, created_at);
	`,
}

const schemaVersionKey = "schema_version"

func (s *Store) migrate(ctx context.Context) error {
	// The meta table must exist before the version can be read.
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return &model.FatalError{Err: fmt.Errorf("failed to create meta table: %w", err)}
	}

	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		err := s.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("migration %d failed: %w", i+1, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO meta (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				schemaVersionKey, fmt.Sprintf("%d", i+1))
			return err
		})
		if err != nil {
			return &model.FatalError{Err: err}
		}
	}

	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, schemaVersionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &model.FatalError{Err: fmt.Errorf("failed to read schema version: %w", err)}
	}

	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, &model.FatalError{Err: fmt.Errorf("corrupt schema version %q", value)}
	}
	return version, nil
}
