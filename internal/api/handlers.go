package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"modelreg/internal/model"
	"modelreg/internal/query"
	"modelreg/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version.Info(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}, http.StatusOK)
}

// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		WriteRegistryError(w, err)
		return
	}
	WriteJSON(w, stats, http.StatusOK)
}

// POST /query with a query.Request body
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req query.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		BadRequest(w, "invalid query: "+err.Error())
		return
	}

	ctx := r.Context()
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	res, err := query.Execute(ctx, s.registry, req)
	if err != nil {
		WriteRegistryError(w, err)
		return
	}
	WriteJSON(w, res, http.StatusOK)
}

// CacheClearResponse is returned by DELETE /cache
type CacheClearResponse struct {
	Category string `json:"category"`
	Cleared  bool   `json:"cleared"`
}

// DELETE /cache?category=source/family/category
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		MethodNotAllowed(w, http.MethodDelete)
		return
	}
	cat := model.ParseCategory(r.URL.Query().Get("category"))
	if err := s.registry.ClearCache(r.Context(), cat); err != nil {
		WriteRegistryError(w, err)
		return
	}
	WriteJSON(w, CacheClearResponse{Category: cat.String(), Cleared: true}, http.StatusOK)
}

// GET /providers
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	WriteJSON(w, map[string]interface{}{"providers": s.registry.Providers()}, http.StatusOK)
}
