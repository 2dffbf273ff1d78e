package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leadharvest/orchestrator/internal/progress"
)

// streamProjectEvents pushes one project's progress events to the client as
// server-sent events. The stream ends when the project reaches a terminal
// stage or the client disconnects.
func (s *Server) streamProjectEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if _, err := s.registry.Get(r.Context(), projectID); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.events.Subscribe(projectID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(eventView(evt))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if evt.Stage == progress.StageProjectDone || evt.Stage == progress.StageProjectError {
				return
			}
		}
	}
}

func eventView(evt progress.Event) map[string]any {
	view := map[string]any{
		"project_id": evt.ProjectID,
		"ts":         evt.TS,
		"stage":      string(evt.Stage),
	}
	if evt.Stage == progress.StageUnits {
		view["processed_delta"] = evt.ProcessedDelta
		view["result_delta"] = evt.ResultDelta
	}
	if evt.Note != "" {
		view["note"] = evt.Note
	}
	return view
}
