package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/morezero/editor-gateway/pkg/async"
)

// routes builds the HTTP admin router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/docs", s.handleDocsHTML)
	r.Get("/docs.md", s.handleDocsFormat("markdown", "text/markdown; charset=utf-8"))
	r.Get("/docs.json", s.handleDocsFormat("json", "application/json"))
	r.Get("/operations", s.handleOperations)
	r.Get("/errors", s.handleErrors)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HTTP.HealthCheckTimeout.Duration())
	defer cancel()
	h := s.healthReport(ctx)
	status := http.StatusOK
	if h["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDocsHTML(w http.ResponseWriter, r *http.Request) {
	page, err := s.docs.HTML(includeExamples(r))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - render docs: %v", logPrefix, err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}

func (s *Server) handleDocsFormat(format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.docs.Generate(format, includeExamples(r))
		if err != nil {
			slog.Error(fmt.Sprintf("%s - generate %s docs: %v", logPrefix, format, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(out))
	}
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	status := async.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid status: %s", status)})
		return
	}
	ops := s.ops.List(status)
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops, "count": len(ops)})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records := s.errors.Recent(limit, r.URL.Query().Get("kind"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"errors": records, "count": len(records)})
}

func includeExamples(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("examples"))
	return err != nil || v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}
