// Package api exposes the HTTP interface for the orchestrator service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/config"
	"github.com/leadharvest/orchestrator/internal/dispatcher"
	"github.com/leadharvest/orchestrator/internal/metrics"
	"github.com/leadharvest/orchestrator/internal/pool"
	"github.com/leadharvest/orchestrator/internal/progress/sinks"
	"github.com/leadharvest/orchestrator/internal/results"
	"github.com/leadharvest/orchestrator/internal/scrape"
	"github.com/leadharvest/orchestrator/internal/sweeper"
)

// Server wires HTTP handlers to the registry, queues, and sweeper.
type Server struct {
	router     chi.Router
	registry   scrape.Registry
	resultsDB  scrape.ResultStore
	dispatcher *dispatcher.Dispatcher
	queue      scrape.TaskQueue
	pool       *pool.Coordinator
	sweeper    *sweeper.Sweeper
	events     *sinks.SubscriberSink
	idGen      scrape.IDGenerator
	clock      scrape.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry scrape.Registry,
	resultStore scrape.ResultStore,
	disp *dispatcher.Dispatcher,
	queue scrape.TaskQueue,
	coordinator *pool.Coordinator,
	sw *sweeper.Sweeper,
	events *sinks.SubscriberSink,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		registry:   registry,
		resultsDB:  resultStore,
		dispatcher: disp,
		queue:      queue,
		pool:       coordinator,
		sweeper:    sw,
		events:     events,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.RateLimit.Enabled {
		r.Use(rateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.submitProject)
			r.Get("/", s.listProjects)
			r.Post("/bulk-delete", s.bulkDeleteProjects)
			r.Route("/{project_id}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Delete("/", s.deleteProject)
				r.Get("/results", s.getProjectResults)
				r.Get("/events", s.streamProjectEvents)
				r.Post("/pause", s.transitionHandler(scrape.EventPause))
				r.Post("/resume", s.transitionHandler(scrape.EventResume))
				r.Post("/reset", s.resetProject)
			})
		})
	})

	r.Route("/admin/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/system-health", s.systemHealth)
		r.Post("/queue/clear", s.clearQueue)
		r.Post("/recover-stuck", s.recoverStuck)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Name       string `json:"name"`
	TotalUnits int64  `json:"total_units"`
	Priority   bool   `json:"priority"`
}

// decodeSubmit accepts a JSON or form-encoded submission body.
func decodeSubmit(r *http.Request) (submitRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return submitRequest{}, errors.New("invalid form body")
		}
		req := submitRequest{Name: r.PostFormValue("name")}
		if raw := r.PostFormValue("total_units"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return submitRequest{}, errors.New("total_units must be an integer")
			}
			req.TotalUnits = n
		}
		switch r.PostFormValue("priority") {
		case "true", "on", "1":
			req.Priority = true
		}
		return req, nil
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return submitRequest{}, errors.New("invalid JSON")
	}
	return req, nil
}

func (s *Server) submitProject(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.TotalUnits < 0 {
		writeError(w, http.StatusBadRequest, "total_units must be >= 0")
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate project id")
		return
	}
	queue := scrape.QueueScrape
	if req.Priority {
		queue = scrape.QueueScrapeHigh
	}
	now := s.clock.Now()
	project := scrape.Project{
		ID:             id,
		Name:           req.Name,
		Status:         scrape.StatusQueued,
		Queue:          queue,
		TotalUnits:     req.TotalUnits,
		CreatedAt:      now,
		LastProgressAt: now,
	}
	if err := s.registry.Create(r.Context(), project); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.dispatcher.Submit(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue project")
		return
	}
	metrics.ObserveJob(string(scrape.StatusQueued))
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"project": projectView(project),
	})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	var status *scrape.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := scrape.Status(raw)
		switch st {
		case scrape.StatusQueued, scrape.StatusRunning, scrape.StatusPaused,
			scrape.StatusCompleted, scrape.StatusError:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
	}
	page, perPage := pageParams(r)

	total, err := s.registry.Count(r.Context(), status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	projects, err := s.registry.List(r.Context(), status, perPage, (page-1)*perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]map[string]any, len(projects))
	for i, p := range projects {
		views[i] = projectView(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"projects": views,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.registry.Get(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": projectView(project),
	})
}

func (s *Server) getProjectResults(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if _, err := s.registry.Get(r.Context(), projectID); err != nil {
		writeStoreError(w, err)
		return
	}
	page, perPage := pageParams(r)
	view, err := results.Page(r.Context(), s.resultsDB, projectID, page, perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"items":    view.Items,
		"page":     view.Page,
		"per_page": view.PerPage,
		"pages":    view.Pages,
		"total":    view.Total,
		"has_next": view.HasNext,
		"has_prev": view.HasPrev,
	})
}

// transitionHandler serves pause and resume, which are pure lifecycle moves.
func (s *Server) transitionHandler(event scrape.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := s.registry.Transition(r.Context(), chi.URLParam(r, "project_id"), event)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		metrics.ObserveJob(string(project.Status))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"project": projectView(project),
		})
	}
}

// resetProject returns a terminal project to queued with cleared counters and
// re-admits it on its original queue.
func (s *Server) resetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.registry.Transition(r.Context(), chi.URLParam(r, "project_id"), scrape.EventReset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.resultsDB.DeleteForProject(r.Context(), project.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.dispatcher.Submit(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue project")
		return
	}
	metrics.ObserveJob(string(project.Status))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": projectView(project),
	})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if err := s.registry.Delete(r.Context(), projectID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.resultsDB.DeleteForProject(r.Context(), projectID); err != nil {
		s.logger.Warn("delete results failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      projectID,
	})
}

type bulkDeleteRequest struct {
	IDs []string `json:"project_ids"`
}

// bulkDeleteProjects deletes each listed project independently; one missing
// ID does not abort the rest.
func (s *Server) bulkDeleteProjects(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "project_ids are required")
		return
	}
	deleted := make([]string, 0, len(req.IDs))
	missing := make([]string, 0)
	for _, id := range req.IDs {
		err := s.registry.Delete(r.Context(), id)
		if errors.Is(err, scrape.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.resultsDB.DeleteForProject(r.Context(), id); err != nil {
			s.logger.Warn("delete results failed",
				zap.String("project_id", id), zap.Error(err))
		}
		deleted = append(deleted, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
		"missing": missing,
	})
}

func pageParams(r *http.Request) (page, perPage int) {
	page = 1
	perPage = results.DefaultPerPage
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			perPage = n
		}
	}
	if perPage > results.MaxPerPage {
		perPage = results.MaxPerPage
	}
	return page, perPage
}

// projectView is the wire shape of one project, including the derived
// percentage and legacy paused flag.
func projectView(p scrape.Project) map[string]any {
	view := map[string]any{
		"id":               p.ID,
		"name":             p.Name,
		"status":           string(p.Status),
		"queue":            p.Queue,
		"paused":           p.Paused(),
		"total_units":      p.TotalUnits,
		"processed_units":  p.ProcessedUnits,
		"result_count":     p.ResultCount,
		"progress":         p.Progress(),
		"attempts":         p.Attempts,
		"created_at":       p.CreatedAt,
		"last_progress_at": p.LastProgressAt,
	}
	if p.ErrorText != "" {
		view["error_text"] = p.ErrorText
	}
	if p.StartedAt != nil {
		view["started_at"] = p.StartedAt
	}
	if p.FinishedAt != nil {
		view["finished_at"] = p.FinishedAt
	}
	return view
}
