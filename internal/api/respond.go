package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding a map of JSON-safe values cannot fail; a broken connection
	// is the client's problem.
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the failure envelope every endpoint shares.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

// writeStoreError maps registry/store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scrape.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, scrape.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "operation not valid in current status")
	case errors.Is(err, scrape.ErrConflict):
		writeError(w, http.StatusConflict, "project already exists")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
