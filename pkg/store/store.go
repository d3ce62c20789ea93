// Package store persists memories, relations, agents and extraction
// logs in an embedded SQLite database, with an FTS5 index for BM25
// keyword search. The vector index lives in pkg/vector; the two degrade
// independently.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/model"
)

// Store is the single source of truth. All mutations go through it;
// multi-row writes use Transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database and runs migrations.
func Open(cfg config.StorageConfig) (*Store, error) {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	if cfg.WALMode != nil && *cfg.WALMode {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	dsn := fmt.Sprintf("file:%s?%s", cfg.DBPath, params.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &model.FatalError{Err: fmt.Errorf("failed to open database: %w", err)}
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent ingest.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &model.FatalError{Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthy reports whether the database answers a trivial query.
func (s *Store) Healthy(ctx context.Context) bool {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

// Transaction runs fn in a transaction, committing on nil error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
