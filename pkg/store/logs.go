package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cortexmem/cortex/pkg/model"
)

// InsertExtractionLog records one channel run. Failures here are logged
// by callers but never abort an ingest.
func (s *Store) InsertExtractionLog(ctx context.Context, l *model.ExtractionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_logs (
			id, agent_id, session_id, channel, exchange_preview, raw_output,
			parsed_memories, written, deduplicated, smart_updated,
			latency_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AgentID, l.SessionID, l.Channel, l.ExchangePreview,
		l.RawOutput, l.ParsedMemories, l.Written, l.Deduplicated,
		l.SmartUpdated, l.LatencyMS, l.Error, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert extraction log: %w", err)
	}
	return nil
}

// ListExtractionLogs returns an agent's recent runs, newest first.
func (s *Store) ListExtractionLogs(ctx context.Context, agentID string, limit int) ([]*model.ExtractionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, session_id, channel, exchange_preview, raw_output,
			parsed_memories, written, deduplicated, smart_updated,
			latency_ms, error, created_at
		FROM extraction_logs
		WHERE agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction logs: %w", err)
	}
	defer rows.Close()

	var out []*model.ExtractionLog
	for rows.Next() {
		var l model.ExtractionLog
		if err := rows.Scan(&l.ID, &l.AgentID, &l.SessionID, &l.Channel,
			&l.ExchangePreview, &l.RawOutput, &l.ParsedMemories, &l.Written,
			&l.Deduplicated, &l.SmartUpdated, &l.LatencyMS, &l.Error,
			&l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction log: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
