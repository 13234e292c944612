// Package api is the resident-facing intake surface: submit a request, poll
// its status, read its triage analysis.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/jurisdiction"
	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/store"
	"github.com/civicworks/portal311/internal/triage"
)

// RequestStore is the storage surface the API reads and writes.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *model.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*model.ServiceRequest, error)
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	store     RequestStore
	evaluator *jurisdiction.Evaluator
	runner    triage.Runner
	logger    *zap.Logger
}

func NewServer(st RequestStore, eval *jurisdiction.Evaluator, runner triage.Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	return &Server{store: st, evaluator: eval, runner: runner, logger: logger}
}

// Router builds the chi router with CORS for the given portal origins.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/requests", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/triage", s.handleTriage)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitResponse is the accepted-request body. Warning carries the advisory
// jurisdiction note when an exclusion covers the point but not the category.
type submitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var draft model.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateDraft(&draft); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	verdict, err := s.evaluator.Evaluate(r.Context(), draft)
	if err != nil {
		s.logger.Error("jurisdiction evaluation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not evaluate service area")
		return
	}
	if !verdict.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verdict.Warning})
		return
	}

	req := &model.ServiceRequest{
		Description: draft.Description,
		Category:    draft.Category,
		Address:     draft.Address,
		Latitude:    draft.Latitude,
		Longitude:   draft.Longitude,
		Media:       draft.Media,
		Status:      model.StatusOpen,
	}
	if err := s.store.CreateRequest(r.Context(), req); err != nil {
		s.logger.Error("create request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save request")
		return
	}

	if err := s.runner.Enqueue(r.Context(), req.ID); err != nil {
		// The request is saved; triage can be rerun by hand.
		s.logger.Error("triage enqueue failed", zap.String("request_id", req.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		ID:      req.ID,
		Status:  string(req.Status),
		Warning: verdict.Warning,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lookup(w, r)
	if !ok {
		return
	}
	// Photo metadata surfaces, the bytes stay server-side.
	resp := *req
	if len(resp.Media) > 0 {
		media := make([]model.MediaRef, len(resp.Media))
		for i, m := range resp.Media {
			media[i] = model.MediaRef{Name: m.Name, ContentType: m.ContentType}
		}
		resp.Media = media
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if req.Analysis == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, req.Analysis)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.ServiceRequest, bool) {
	id := chi.URLParam(r, "id")
	req, err := s.store.GetRequest(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get request failed", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load request")
		return nil, false
	}
	return req, true
}

func validateDraft(d *model.Draft) string {
	if strings.TrimSpace(d.Description) == "" {
		return "description is required"
	}
	if strings.TrimSpace(d.Category) == "" {
		return "category is required"
	}
	if strings.TrimSpace(d.Address) == "" && !d.HasCoordinates() {
		return "an address or coordinates are required"
	}
	if (d.Latitude == nil) != (d.Longitude == nil) {
		return "latitude and longitude must be provided together"
	}
	if len(d.Media) > model.MaxMediaRefs {
		return fmt.Sprintf("no more than %d photos may be attached", model.MaxMediaRefs)
	}
	for _, m := range d.Media {
		if len(m.Data) == 0 {
			return "photo data must not be empty"
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
