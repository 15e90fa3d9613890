package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/spatweave/spatweave/internal/persistence"
)

// RunsResponse lists recorded augmentation runs, newest first.
type RunsResponse struct {
	Runs      []persistence.RunRecord `json:"runs"`
	Count     int                     `json:"count"`
	Timestamp time.Time               `json:"timestamp"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "run registry not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var (
		runs []persistence.RunRecord
		err  error
	)
	if ds := r.URL.Query().Get("dataset"); ds != "" {
		runs, err = s.deps.Store.ListByDataset(r.Context(), ds, limit)
	} else {
		runs, err = s.deps.Store.List(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []persistence.RunRecord{}
	}

	writeJSON(w, http.StatusOK, RunsResponse{
		Runs:      runs,
		Count:     len(runs),
		Timestamp: time.Now().UTC(),
	})
}
