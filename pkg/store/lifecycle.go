package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexmem/cortex/pkg/model"
)

// Lifecycle queries. Each is capped so one engine tick never scans the
// whole table; leftovers are picked up next tick.

// LiveMemories pages through live, unexpired memories for decay
// recomputation.
func (s *Store) LiveMemories(ctx context.Context, limit, offset int) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		ORDER BY created_at
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list live memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// PromotionCandidates returns live working memories whose
// importance*confidence clears the threshold and that have been accessed
// at least once.
func (s *Store) PromotionCandidates(ctx context.Context, threshold float64, limit int) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		  AND layer = ?
		  AND importance * confidence >= ?
		  AND access_count >= 1
		LIMIT ?`, model.LayerWorking, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotion candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ArchiveCandidates returns live, unpinned core memories that have
// decayed below the threshold and are older than minAge.
func (s *Store) ArchiveCandidates(ctx context.Context, decayThreshold float64, minAge time.Duration, limit int) ([]*model.Memory, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		  AND layer = ?
		  AND is_pinned = 0
		  AND decay_score < ?
		  AND updated_at < ?
		LIMIT ?`, model.LayerCore, decayThreshold, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ExpiredArchive returns live, unpinned archive memories older than the
// archive TTL, ready for compression or deletion. Age is measured from
// created_at so moving a memory between layers does not restart it.
func (s *Store) ExpiredArchive(ctx context.Context, ttl time.Duration, limit int) ([]*model.Memory, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		  AND layer = ?
		  AND is_pinned = 0
		  AND created_at < ?
		LIMIT ?`, model.LayerArchive, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired archive: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CoreOverflow returns the live, unpinned core memories beyond the
// per-agent cap, weakest decay first. Pinned memories count toward the
// cap but are never returned.
func (s *Store) CoreOverflow(ctx context.Context, agentID string, maxEntries int) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		  AND agent_id = ?
		  AND layer = ?
		  AND is_pinned = 0
		  AND id NOT IN (
			SELECT id FROM memories
			WHERE superseded_by = '' AND agent_id = ? AND layer = ?
			ORDER BY is_pinned DESC, decay_score DESC, updated_at DESC
			LIMIT ?
		  )
		ORDER BY decay_score ASC`, agentID, model.LayerCore, agentID, model.LayerCore, maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to list core overflow: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ExpiredWorking returns live, unpinned working memories whose TTL has
// passed.
func (s *Store) ExpiredWorking(ctx context.Context, limit int) ([]*model.Memory, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE superseded_by = ''
		  AND layer = ?
		  AND is_pinned = 0
		  AND expires_at IS NOT NULL
		  AND expires_at < ?
		LIMIT ?`, model.LayerWorking, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired working: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ChangeLayer moves a memory between layers, adjusting expiry to match
// the destination's rules.
func (s *Store) ChangeLayer(ctx context.Context, id string, layer model.Layer, expiresAt *time.Time) error {
	if err := validateLayerExpiry(layer, expiresAt); err != nil {
		return err
	}

	now := time.Now().UTC()
	var err error
	if expiresAt == nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE memories SET layer = ?, expires_at = NULL, updated_at = ? WHERE id = ?`,
			layer, now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE memories SET layer = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
			layer, *expiresAt, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to change layer: %w", err)
	}
	return nil
}
