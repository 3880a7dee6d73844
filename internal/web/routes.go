package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-dedup/internal/report"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/", s.handleReport)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/groups", s.handleGroups)
		r.Get("/stats", s.handleStats)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if groups == nil {
		groups = []store.DuplicateGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.PhotoCount(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	extra := 0
	for _, g := range groups {
		extra += len(g.Members) - 1
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"photos":           count,
		"groups":           len(groups),
		"removable_copies": extra,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	records, err := s.store.ListPhotos(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	page, err := report.Build(groups, records, s.policy, s.config.Source.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, page); err != nil {
		log.Printf("render report: %v", err)
	}
}

// storeError maps store failures to HTTP responses. A consistency error
// means the persisted groups and photos disagree, which the client can
// fix by rescanning.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	var consistency *store.ConsistencyError
	if errors.As(err, &consistency) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": consistency.Error(),
			"hint":  "run a scan to rebuild duplicate groups",
		})
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
