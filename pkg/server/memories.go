package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
)

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		AgentID:           q.Get("agent_id"),
		Layer:             model.Layer(q.Get("layer")),
		Category:          model.Category(q.Get("category")),
		IncludeSuperseded: q.Get("include_superseded") == "true",
		Limit:             intParam(q.Get("limit")),
		Offset:            intParam(q.Get("offset")),
	}

	mems, err := s.store.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if mems == nil {
		mems = []*model.Memory{}
	}
	s.writeJSON(w, http.StatusOK, mems)
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var spec model.MemorySpec
	if !s.decode(w, r, &spec) {
		return
	}
	if spec.Layer == "" {
		if spec.Importance >= model.CoreImportanceThreshold {
			spec.Layer = model.LayerCore
		} else {
			spec.Layer = model.LayerWorking
			expires := time.Now().UTC().Add(s.workingTTL())
			spec.ExpiresAt = &expires
		}
	}

	m, err := s.store.Insert(r.Context(), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.upsertVector(r, m)
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if m == nil {
		s.notFound(w, "memory")
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

type memoryPatch struct {
	Layer      *model.Layer    `json:"layer,omitempty"`
	Category   *model.Category `json:"category,omitempty"`
	Content    *string         `json:"content,omitempty"`
	Importance *float64        `json:"importance,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	IsPinned   *bool           `json:"is_pinned,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p memoryPatch
	if !s.decode(w, r, &p) {
		return
	}

	existing, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if existing == nil {
		s.notFound(w, "memory")
		return
	}

	upd := store.MemoryUpdate{
		Layer:      p.Layer,
		Category:   p.Category,
		Content:    p.Content,
		Importance: p.Importance,
		Confidence: p.Confidence,
		ExpiresAt:  p.ExpiresAt,
		IsPinned:   p.IsPinned,
		Metadata:   p.Metadata,
	}
	// Moving off the working layer clears the TTL; moving onto it
	// without an explicit expiry gets the configured working TTL.
	if p.Layer != nil && *p.Layer != model.LayerWorking && p.ExpiresAt == nil {
		upd.ClearExpiry = true
	}
	if p.Layer != nil && *p.Layer == model.LayerWorking && p.ExpiresAt == nil && existing.ExpiresAt == nil {
		expires := time.Now().UTC().Add(s.workingTTL())
		upd.ExpiresAt = &expires
	}

	if err := s.store.Update(r.Context(), id, upd); err != nil {
		s.writeError(w, err)
		return
	}

	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p.Content != nil && *p.Content != existing.Content {
		s.upsertVector(r, m)
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if m == nil {
		s.notFound(w, "memory")
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.vectors.Delete(r.Context(), id); err != nil {
		s.logger.Warn("vector delete failed", "id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// workingTTL reads the working-layer TTL under the config lock.
func (s *Server) workingTTL() time.Duration {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Layers.Working.TTL.Std()
}
