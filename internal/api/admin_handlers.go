package api

import (
	"encoding/json"
	"net/http"

	"github.com/leadharvest/orchestrator/internal/metrics"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

// systemHealth reports worker liveness, queue depths, and project counts in
// one payload for dashboards.
func (s *Server) systemHealth(w http.ResponseWriter, r *http.Request) {
	depths, err := s.queue.Depths(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	byStatus, err := s.registry.CountByStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	live := s.pool.Count()
	active := s.pool.ActiveCount()
	metrics.SetWorkerCounts(live, active)
	for queue, depth := range depths {
		metrics.SetQueueDepth(queue, depth)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"workers": map[string]any{
			"count":   live,
			"active":  active,
			"healthy": s.pool.Healthy(),
		},
		"queues": depths,
		"projects": map[string]int64{
			"queued":    byStatus[scrape.StatusQueued],
			"running":   byStatus[scrape.StatusRunning],
			"paused":    byStatus[scrape.StatusPaused],
			"completed": byStatus[scrape.StatusCompleted],
			"error":     byStatus[scrape.StatusError],
		},
	})
}

type clearQueueRequest struct {
	Queue string `json:"queue"`
}

// clearQueue drains unclaimed tasks from one queue, or all of them.
func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	var req clearQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Queue == "" {
		writeError(w, http.StatusBadRequest, "queue is required")
		return
	}
	if req.Queue != "all" && !scrape.ValidQueue(req.Queue) {
		writeError(w, http.StatusBadRequest, "unknown queue")
		return
	}
	removed, err := s.queue.Clear(r.Context(), req.Queue)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"queue":   req.Queue,
		"removed": removed,
	})
}

// recoverStuck triggers one sweep immediately instead of waiting for the
// schedule.
func (s *Server) recoverStuck(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := 0; i < report.Recovered; i++ {
		metrics.ObserveRecovery("recovered")
	}
	for i := 0; i < report.Failed; i++ {
		metrics.ObserveRecovery("exhausted")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"report":  report,
	})
}
