package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systemshift/cattree/internal/catalog"
	"github.com/systemshift/cattree/internal/server/subscriptions"
	"github.com/systemshift/cattree/internal/tree"
)

// Server holds the HTTP server dependencies
type Server struct {
	svc    *catalog.Service
	subMgr *subscriptions.Manager
	logger *slog.Logger
}

// New creates a new API server. subMgr may be nil, in which case the
// subscription routes answer 503.
func New(svc *catalog.Service, subMgr *subscriptions.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, subMgr: subMgr, logger: logger}
}

// Routes mounts every endpoint on r
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", s.GetForest)
		r.Post("/categories", s.CreateCategory)
		r.Get("/categories/leaves", s.GetLeaves)
		r.Get("/categories/check", s.CheckIndex)
		r.Get("/categories/{id}", s.GetSubtree)
		r.Get("/categories/{id}/path", s.GetPath)
		r.Delete("/categories/{id}", s.DeleteCategory)
		r.Post("/categories/{id}/move", s.MoveCategory)

		r.Post("/subscriptions", s.CreateSubscription)
		r.Get("/subscriptions", s.ListSubscriptions)
		r.Get("/subscriptions/{id}", s.GetSubscription)
		r.Patch("/subscriptions/{id}", s.UpdateSubscription)
		r.Delete("/subscriptions/{id}", s.DeleteSubscription)
		r.Get("/subscriptions/{id}/ws", s.SubscriptionStream)
	})
}

// CreateCategoryRequest is the request body for creating a category
type CreateCategoryRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// MoveCategoryRequest is the request body for relocating a category. A
// null parent_id makes it a root.
type MoveCategoryRequest struct {
	ParentID *int64 `json:"parent_id"`
	Subtree  bool   `json:"subtree"`
}

// CheckResponse reports the outcome of an invariant check
type CheckResponse struct {
	Index      tree.Kind `json:"index"`
	OK         bool      `json:"ok"`
	Violations []string  `json:"violations,omitempty"`
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"index":  string(s.svc.Kind()),
	})
}

// GetForest handles GET /api/categories
func (s *Server) GetForest(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Tree(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// CreateCategory handles POST /api/categories
func (s *Server) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cat, err := s.svc.Add(r.Context(), req.ParentID, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

// GetLeaves handles GET /api/categories/leaves
func (s *Server) GetLeaves(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Leaves(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaves": nonNil(items),
		"count":  len(items),
	})
}

// CheckIndex handles GET /api/categories/check
func (s *Server) CheckIndex(w http.ResponseWriter, r *http.Request) {
	resp := CheckResponse{Index: s.svc.Kind(), OK: true}

	err := s.svc.Check(r.Context())
	var inv *tree.InvariantError
	switch {
	case err == nil:
	case errors.As(err, &inv):
		resp.OK = false
		resp.Violations = inv.Violations
	default:
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubtree handles GET /api/categories/{id}
func (s *Server) GetSubtree(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	f, err := s.svc.Subtree(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetPath handles GET /api/categories/{id}/path
func (s *Server) GetPath(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	items, err := s.svc.Path(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category_id": id,
		"path":        items,
	})
}

// DeleteCategory handles DELETE /api/categories/{id}
func (s *Server) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveCategory handles POST /api/categories/{id}/move
func (s *Server) MoveCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	var req MoveCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	move := s.svc.Move
	if req.Subtree {
		move = s.svc.MoveSubtree
	}
	if err := move(r.Context(), id, req.ParentID); err != nil {
		s.writeError(w, err)
		return
	}

	items, err := s.svc.Path(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category_id": id,
		"path":        items,
	})
}

// ============== Subscription Handlers ==============

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.subMgr.Register(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptions.SubscriptionResponse{Subscription: sub})
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.subMgr.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	if err := s.subMgr.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps err onto a status code
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tree.ErrNotFound), errors.Is(err, subscriptions.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tree.ErrInvalidRelocation), errors.Is(err, tree.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrInvalidName), errors.Is(err, subscriptions.ErrInvalidSubscription):
		status = http.StatusBadRequest
	case errors.Is(err, tree.ErrStoreFailure):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func categoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid category id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func nonNil(items []catalog.Item) []catalog.Item {
	if items == nil {
		return []catalog.Item{}
	}
	return items
}
