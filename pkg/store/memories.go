package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cortexmem/cortex/pkg/model"
)

const memoryColumns = `id, agent_id, layer, category, content, importance, confidence,
	decay_score, access_count, created_at, updated_at, expires_at,
	superseded_by, is_pinned, source, metadata`

// Insert validates the spec, assigns id and timestamps, and writes the
// row atomically. Layer/expiry mismatches fail with InvariantError.
func (s *Store) Insert(ctx context.Context, spec model.MemorySpec) (*model.Memory, error) {
	var m *model.Memory
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = insertTx(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func insertTx(ctx context.Context, tx *sql.Tx, spec model.MemorySpec) (*model.Memory, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Layer == "" {
		return nil, model.NewValidationError("layer is required")
	}
	if err := validateLayerExpiry(spec.Layer, spec.ExpiresAt); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &model.Memory{
		ID:          uuid.NewString(),
		AgentID:     spec.AgentID,
		Layer:       spec.Layer,
		Category:    spec.Category,
		Content:     strings.TrimSpace(spec.Content),
		Importance:  spec.Importance,
		Confidence:  spec.Confidence,
		DecayScore:  1.0,
		AccessCount: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   spec.ExpiresAt,
		IsPinned:    spec.IsPinned,
		Source:      spec.Source,
		Metadata:    spec.Metadata,
	}

	metadata, err := marshalMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Layer, m.Category, m.Content, m.Importance,
		m.Confidence, m.DecayScore, m.AccessCount, m.CreatedAt, m.UpdatedAt,
		m.ExpiresAt, m.SupersededBy, m.IsPinned, m.Source, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	return m, nil
}

// validateLayerExpiry enforces that working memories carry an expiry and
// no other layer does.
func validateLayerExpiry(layer model.Layer, expiresAt *time.Time) error {
	switch layer {
	case model.LayerWorking:
		if expiresAt == nil {
			return model.NewInvariantError("working memory requires expires_at")
		}
	case model.LayerCore, model.LayerArchive:
		if expiresAt != nil {
			return model.NewInvariantError(fmt.Sprintf("%s memory must not have expires_at", layer))
		}
	}
	return nil
}

// Get returns the memory, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// MemoryUpdate is a partial update. Nil fields are untouched.
type MemoryUpdate struct {
	Layer       *model.Layer
	Category    *model.Category
	Content     *string
	Importance  *float64
	Confidence  *float64
	ExpiresAt   *time.Time
	ClearExpiry bool
	IsPinned    *bool
	Metadata    map[string]any
}

// Update applies a partial update and bumps updated_at. The resulting
// layer/expiry combination is validated against the current row, so a
// partial update cannot break the working-layer TTL invariant.
func (s *Store) Update(ctx context.Context, id string, upd MemoryUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Layer != nil {
		if !model.ValidLayers[*upd.Layer] {
			return model.NewValidationError(fmt.Sprintf("unknown layer %q", *upd.Layer))
		}
		sets = append(sets, "layer = ?")
		args = append(args, *upd.Layer)
	}
	if upd.Category != nil {
		if !model.ValidCategories[*upd.Category] {
			return model.NewValidationError(fmt.Sprintf("unknown category %q", *upd.Category))
		}
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if upd.Content != nil {
		if utf8.RuneCountInString(strings.TrimSpace(*upd.Content)) < model.MinContentLength {
			return model.NewValidationError("content too short")
		}
		sets = append(sets, "content = ?")
		args = append(args, strings.TrimSpace(*upd.Content))
	}
	if upd.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *upd.Importance)
	}
	if upd.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, *upd.Confidence)
	}
	if upd.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	} else if upd.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, *upd.ExpiresAt)
	}
	if upd.IsPinned != nil {
		sets = append(sets, "is_pinned = ?")
		args = append(args, *upd.IsPinned)
	}
	if upd.Metadata != nil {
		metadata, err := marshalMetadata(upd.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}

	args = append(args, id)
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var layer model.Layer
		var expiresAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT layer, expires_at FROM memories WHERE id = ?`, id).Scan(&layer, &expiresAt)
		if err == sql.ErrNoRows {
			return model.NewValidationError("memory not found")
		}
		if err != nil {
			return fmt.Errorf("failed to read memory for update: %w", err)
		}

		newLayer := layer
		if upd.Layer != nil {
			newLayer = *upd.Layer
		}
		var newExpiry *time.Time
		if expiresAt.Valid {
			t := expiresAt.Time
			newExpiry = &t
		}
		if upd.ClearExpiry {
			newExpiry = nil
		} else if upd.ExpiresAt != nil {
			newExpiry = upd.ExpiresAt
		}
		if err := validateLayerExpiry(newLayer, newExpiry); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("failed to update memory: %w", err)
		}
		return nil
	})
}

// Delete removes the row. Vector cleanup is the caller's responsibility.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

// DeleteBatch removes several rows in one transaction.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete memory %s: %w", id, err)
			}
		}
		return nil
	})
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	AgentID           string
	Layer             model.Layer
	Category          model.Category
	IncludeSuperseded bool
	Limit             int
	Offset            int
}

// List returns memories newest-first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*model.Memory, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Layer != "" {
		where = append(where, "layer = ?")
		args = append(args, f.Layer)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.IncludeSuperseded {
		where = append(where, "superseded_by = ''")
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// KeywordHit is one BM25 search result. Score is positive, higher is
// better.
type KeywordHit struct {
	ID    string
	Score float64
}

// KeywordSearch runs BM25 full-text search over live memory content.
func (s *Store) KeywordSearch(ctx context.Context, agentID, query string, k int) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS score
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		  AND m.agent_id = ?
		  AND m.superseded_by = ''
		ORDER BY score
		LIMIT ?`,
		match, agentID, k)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var raw float64
		if err := rows.Scan(&h.ID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		// bm25() yields more negative for better matches; flip the sign
		// so callers see higher-is-better.
		h.Score = -raw
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 match expression: tokens
// are quoted and OR-joined so user punctuation cannot break the parser.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !isWordRune(r)
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0x80:
		// Keep non-ASCII word characters (CJK etc).
		return true
	default:
		return false
	}
}

// Supersede inserts the new memory and links the old one to it in a
// single transaction. The old memory must be live.
func (s *Store) Supersede(ctx context.Context, spec model.MemorySpec, oldID string) (*model.Memory, error) {
	return s.SupersedeMany(ctx, spec, []string{oldID})
}

// SupersedeMany inserts one new memory superseding several old ones
// (the lifecycle merge path).
func (s *Store) SupersedeMany(ctx context.Context, spec model.MemorySpec, oldIDs []string) (*model.Memory, error) {
	var m *model.Memory
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, oldID := range oldIDs {
			var superseded string
			err := tx.QueryRowContext(ctx,
				`SELECT superseded_by FROM memories WHERE id = ?`, oldID).Scan(&superseded)
			if err == sql.ErrNoRows {
				return model.NewInvariantError(fmt.Sprintf("supersede target %s does not exist", oldID))
			}
			if err != nil {
				return fmt.Errorf("failed to check supersede target: %w", err)
			}
			if superseded != "" {
				return model.NewInvariantError(fmt.Sprintf("memory %s is already superseded", oldID))
			}
		}

		var err error
		m, err = insertTx(ctx, tx, spec)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, oldID := range oldIDs {
			if oldID == m.ID {
				return model.NewInvariantError("memory cannot supersede itself")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET superseded_by = ?, updated_at = ? WHERE id = ?`,
				m.ID, now, oldID); err != nil {
				return fmt.Errorf("failed to mark superseded: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// IncrementAccess bumps access_count without touching updated_at, so
// recall traffic does not reset decay age. At-least-once semantics.
func (s *Store) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET access_count = access_count + 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to increment access for %s: %w", id, err)
			}
		}
		return nil
	})
}

// SetDecayScores writes recomputed decay scores without touching
// updated_at (decay age is measured from updated_at).
func (s *Store) SetDecayScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for id, score := range scores {
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET decay_score = ? WHERE id = ?`, score, id); err != nil {
				return fmt.Errorf("failed to set decay score for %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetBatch fetches several memories by id, skipping missing ones.
func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*model.Memory, error) {
	var m model.Memory
	var expiresAt sql.NullTime
	var metadata string

	err := row.Scan(&m.ID, &m.AgentID, &m.Layer, &m.Category, &m.Content,
		&m.Importance, &m.Confidence, &m.DecayScore, &m.AccessCount,
		&m.CreatedAt, &m.UpdatedAt, &expiresAt, &m.SupersededBy,
		&m.IsPinned, &m.Source, &metadata)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt memory metadata: %w", err)
		}
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(raw), nil
}
