package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/sieve"
	"github.com/cortexmem/cortex/pkg/store"
)

func (s *Server) handleListRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RelationFilter{
		AgentID:        q.Get("agent_id"),
		Subject:        q.Get("subject"),
		Predicate:      model.Predicate(q.Get("predicate")),
		IncludeExpired: q.Get("include_expired") == "true",
		Limit:          intParam(q.Get("limit")),
		Offset:         intParam(q.Get("offset")),
	}

	rels, err := s.store.ListRelations(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rels == nil {
		rels = []*model.Relation{}
	}
	s.writeJSON(w, http.StatusOK, rels)
}

func (s *Server) handleUpsertRelation(w http.ResponseWriter, r *http.Request) {
	var rel model.Relation
	if !s.decode(w, r, &rel) {
		return
	}
	if rel.AgentID == "" {
		rel.AgentID = sieve.DefaultAgentID
	}
	if rel.Confidence == 0 {
		rel.Confidence = 0.7
	}

	saved, err := s.store.UpsertRelation(r.Context(), &rel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetRelation(w http.ResponseWriter, r *http.Request) {
	rel, err := s.store.GetRelation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rel == nil {
		s.notFound(w, "relation")
		return
	}
	s.writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleDeleteRelation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rel, err := s.store.GetRelation(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rel == nil {
		s.notFound(w, "relation")
		return
	}

	if err := s.store.DeleteRelation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
