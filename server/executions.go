package server

import (
	"net/http"
	"strconv"

	"github.com/chimeworks/chime/dispatch"
	"github.com/chimeworks/chime/errors"
)

// handleExecutions handles GET /api/executions with optional
// owner/job/status/limit/offset query filters
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	filter := dispatch.ExecutionFilter{
		OwnerService: r.URL.Query().Get("owner"),
		JobName:      r.URL.Query().Get("job"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !dispatch.IsValidStatus(status) {
			writeError(w, http.StatusBadRequest, "Invalid status filter: "+status)
			return
		}
		filter.Status = dispatch.Status(status)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit: "+limitStr)
			return
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset: "+offsetStr)
			return
		}
		filter.Offset = offset
	}

	execs, err := s.dispatcher.Store().ListExecutions(filter)
	if err != nil {
		s.logger.Errorw("Failed to list executions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

// handleExecution handles /api/executions/{id}:
//
//	GET  /api/executions/{id}         fetch
//	POST /api/executions/{id}/cancel  cancel if still queued
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/executions/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Expected /api/executions/{id}")
		return
	}
	id := parts[0]

	if len(parts) >= 2 && parts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		cancelled, err := s.dispatcher.Cancel(id)
		if err != nil {
			if errors.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Errorw("Failed to cancel execution", "execution_id", shortID(id), "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to cancel execution")
			return
		}
		s.logger.Infow("Cancel requested", "execution_id", shortID(id), "cancelled", cancelled)
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	exec, err := s.dispatcher.GetExecution(id)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Errorw("Failed to get execution", "execution_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
