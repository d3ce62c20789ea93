package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cortexmem/cortex/pkg/model"
)

// CreateAgent registers a tenant namespace. The ID may be caller-chosen
// so external systems can use stable identifiers.
func (s *Store) CreateAgent(ctx context.Context, a *model.Agent) (*model.Agent, error) {
	if a.Name == "" {
		return nil, model.NewValidationError("agent name is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	cfg, err := marshalJSONMap(a.Config)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSONMap(a.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, config, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, cfg, meta, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return a, nil
}

// GetAgent returns the agent, or nil when missing.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, config, metadata, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by creation time.
func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, config, metadata, created_at, updated_at
		FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentUpdate carries optional fields for UpdateAgent.
type AgentUpdate struct {
	Name   *string
	Config map[string]any
}

// UpdateAgent applies the non-nil fields.
func (s *Store) UpdateAgent(ctx context.Context, id string, upd AgentUpdate) (*model.Agent, error) {
	existing, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.NewValidationError("agent not found")
	}

	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, model.NewValidationError("agent name is required")
		}
		existing.Name = *upd.Name
	}
	if upd.Config != nil {
		existing.Config = upd.Config
	}
	existing.UpdatedAt = time.Now().UTC()

	cfg, err := marshalJSONMap(existing.Config)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, config = ?, updated_at = ? WHERE id = ?`,
		existing.Name, cfg, existing.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return existing, nil
}

// SetAgentMetadataKey writes a single metadata key, preserving the rest.
// The lifecycle engine uses this for the synthesized profile.
func (s *Store) SetAgentMetadataKey(ctx context.Context, id, key string, value any) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM agents WHERE id = ?`, id).Scan(&raw)
		if err == sql.ErrNoRows {
			return model.NewValidationError("agent not found")
		}
		if err != nil {
			return fmt.Errorf("failed to read agent metadata: %w", err)
		}

		meta := map[string]any{}
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return fmt.Errorf("failed to parse agent metadata: %w", err)
			}
		}
		meta[key] = value

		out, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal agent metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE agents SET metadata = ?, updated_at = ? WHERE id = ?`,
			string(out), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to write agent metadata: %w", err)
		}
		return nil
	})
}

// DeleteAgent removes an agent and all rows scoped to it.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM memories WHERE agent_id = ?`,
			`DELETE FROM relations WHERE agent_id = ?`,
			`DELETE FROM extraction_logs WHERE agent_id = ?`,
			`DELETE FROM agents WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete agent data: %w", err)
			}
		}
		return nil
	})
}

func scanAgent(row scanner) (*model.Agent, error) {
	var a model.Agent
	var cfg, meta string
	err := row.Scan(&a.ID, &a.Name, &cfg, &meta, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	if cfg != "" && cfg != "{}" {
		if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
			return nil, fmt.Errorf("failed to parse agent config: %w", err)
		}
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse agent metadata: %w", err)
		}
	}
	return &a, nil
}

func marshalJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json: %w", err)
	}
	return string(out), nil
}
