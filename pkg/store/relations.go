package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexmem/cortex/pkg/model"
)

const relationColumns = `id, agent_id, subject, predicate, object, confidence,
	memory_id, expired, created_at, updated_at`

// UpsertRelation inserts or refreshes an edge. A negative predicate
// (not_uses, dislikes, ...) expires the conflicting positive edge in the
// same transaction.
func (s *Store) UpsertRelation(ctx context.Context, r *model.Relation) (*model.Relation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now
	r.UpdatedAt = now

	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		// RETURNING reports the surviving row: on conflict the existing
		// id and created_at, not the freshly generated ones.
		err := tx.QueryRowContext(ctx, `
			INSERT INTO relations (`+relationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(agent_id, subject, predicate, object) DO UPDATE SET
				confidence = excluded.confidence,
				memory_id  = excluded.memory_id,
				expired    = 0,
				updated_at = excluded.updated_at
			RETURNING id, created_at`,
			r.ID, r.AgentID, r.Subject, r.Predicate, r.Object,
			r.Confidence, r.MemoryID, r.CreatedAt, r.UpdatedAt).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert relation: %w", err)
		}

		if positive := r.Predicate.Contradicts(); positive != "" {
			_, err := tx.ExecContext(ctx, `
				UPDATE relations SET expired = 1, updated_at = ?
				WHERE agent_id = ? AND subject = ? AND predicate = ? AND object = ?`,
				now, r.AgentID, r.Subject, positive, r.Object)
			if err != nil {
				return fmt.Errorf("failed to expire contradicted relation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RelationFilter narrows ListRelations.
type RelationFilter struct {
	AgentID        string
	Subject        string
	Predicate      model.Predicate
	IncludeExpired bool
	Limit          int
	Offset         int
}

// ListRelations returns edges newest-first.
func (s *Store) ListRelations(ctx context.Context, f RelationFilter) ([]*model.Relation, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Predicate != "" {
		where = append(where, "predicate = ?")
		args = append(args, f.Predicate)
	}
	if !f.IncludeExpired {
		where = append(where, "expired = 0")
	}

	query := `SELECT ` + relationColumns + ` FROM relations WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	defer rows.Close()

	var out []*model.Relation
	for rows.Next() {
		var r model.Relation
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Subject, &r.Predicate,
			&r.Object, &r.Confidence, &r.MemoryID, &r.Expired,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRelation returns the relation, or nil when missing.
func (s *Store) GetRelation(ctx context.Context, id string) (*model.Relation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM relations WHERE id = ?`, id)

	var r model.Relation
	err := row.Scan(&r.ID, &r.AgentID, &r.Subject, &r.Predicate, &r.Object,
		&r.Confidence, &r.MemoryID, &r.Expired, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relation: %w", err)
	}
	return &r, nil
}

// DeleteRelation removes an edge.
func (s *Store) DeleteRelation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete relation: %w", err)
	}
	return nil
}
