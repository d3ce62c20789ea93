package store

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/pkg/model"
)

// Stats is the shape served by GET /stats.
type Stats struct {
	TotalMemories int            `json:"total_memories"`
	ByLayer       map[string]int `json:"by_layer"`
	ByCategory    map[string]int `json:"by_category"`
	Relations     int            `json:"relations"`
	Agents        int            `json:"agents"`
	Superseded    int            `json:"superseded"`
}

// Stats aggregates counts across the whole database, or a single agent
// when agentID is non-empty. Superseded memories are counted separately
// from the layer and category breakdowns.
func (s *Store) Stats(ctx context.Context, agentID string) (*Stats, error) {
	st := &Stats{
		ByLayer:    map[string]int{},
		ByCategory: map[string]int{},
	}

	memFilter, relFilter := "", ""
	var args []any
	if agentID != "" {
		memFilter = " AND agent_id = ?"
		relFilter = " WHERE agent_id = ?"
		args = []any{agentID}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT layer, COUNT(*) FROM memories WHERE superseded_by = ''`+memFilter+` GROUP BY layer`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by layer: %w", err)
	}
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByLayer[layer] = n
		st.TotalMemories += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memories WHERE superseded_by = ''`+memFilter+` GROUP BY category`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by category: %w", err)
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByCategory[cat] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE superseded_by != ''`+memFilter, args...).
		Scan(&st.Superseded)
	if err != nil {
		return nil, fmt.Errorf("failed to count superseded: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relations`+relFilter, args...).Scan(&st.Relations)
	if err != nil {
		return nil, fmt.Errorf("failed to count relations: %w", err)
	}

	if agentID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&st.Agents)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM agents WHERE id = ?`, agentID).Scan(&st.Agents)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}

	return st, nil
}

// CountLayer returns the live-memory count for one agent and layer. The
// lifecycle engine uses it to enforce core capacity.
func (s *Store) CountLayer(ctx context.Context, agentID string, layer model.Layer) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories
		WHERE agent_id = ? AND layer = ? AND superseded_by = ''`,
		agentID, layer).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count layer: %w", err)
	}
	return n, nil
}
