package server

import (
	"context"
	"net/http"

	"github.com/chimeworks/chime/dispatch"
	"github.com/chimeworks/chime/errors"
	"github.com/chimeworks/chime/schedule"
)

// createJobRequest is the POST /api/jobs body
type createJobRequest struct {
	OwnerService string         `json:"owner_service"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"` // nil = enabled
	Kind         string         `json:"schedule_kind"`
	Spec         string         `json:"schedule_spec"`
	Target       string         `json:"target"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
}

// updateScheduleRequest is the PUT /api/jobs/{owner}/{name}/schedule body
type updateScheduleRequest struct {
	Kind string `json:"schedule_kind"`
	Spec string `json:"schedule_spec"`
}

// handleJobs handles GET (list) and POST (create) on /api/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs, err := s.jobs.List(r.URL.Query().Get("owner"))
		if err != nil {
			s.logger.Errorw("Failed to list jobs", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": defs, "count": len(defs)})

	case http.MethodPost:
		var req createJobRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}

		def := &schedule.JobDefinition{
			OwnerService: req.OwnerService,
			Name:         req.Name,
			Description:  req.Description,
			Enabled:      req.Enabled == nil || *req.Enabled,
			Kind:         schedule.ScheduleKind(req.Kind),
			Spec:         req.Spec,
			Target:       req.Target,
			Args:         req.Args,
			Kwargs:       req.Kwargs,
		}

		if err := s.jobs.Register(def); err != nil {
			switch {
			case errors.IsDuplicateJob(err):
				writeError(w, http.StatusConflict, err.Error())
			case errors.IsInvalidSchedule(err):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				s.logger.Errorw("Failed to register job", "job", def.Key(), "error", err)
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}

		s.logger.Infow("Registered job", "job", def.Key(), "schedule_kind", def.Kind, "schedule_spec", def.Spec)

		if s.runOnRegister && def.Enabled {
			exec, err := s.dispatcher.Enqueue(context.Background(), dispatch.Request{
				OwnerService: def.OwnerService,
				JobName:      def.Name,
				Target:       def.Target,
				Args:         def.Args,
				Kwargs:       def.Kwargs,
			})
			if err != nil {
				s.logger.Warnw("Failed to dispatch job on registration", "job", def.Key(), "error", err)
			} else {
				s.logger.Infow("Dispatched job on registration", "job", def.Key(), "execution_id", exec.ID)
			}
		}

		writeJSON(w, http.StatusCreated, def)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleJob handles /api/jobs/{owner}/{name} and its sub-resources:
//
//	GET    /api/jobs/{owner}/{name}           fetch
//	DELETE /api/jobs/{owner}/{name}           unregister
//	POST   /api/jobs/{owner}/{name}/enable    enable
//	POST   /api/jobs/{owner}/{name}/disable   disable
//	PUT    /api/jobs/{owner}/{name}/schedule  replace schedule
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "Expected /api/jobs/{owner}/{name}")
		return
	}
	owner, name := parts[0], parts[1]

	if len(parts) >= 3 && parts[2] != "" {
		s.handleJobAction(w, r, owner, name, parts[2])
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := s.jobs.Get(owner, name)
		if err != nil {
			if errors.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Errorw("Failed to get job", "owner", owner, "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to get job")
			return
		}
		writeJSON(w, http.StatusOK, def)

	case http.MethodDelete:
		if err := s.jobs.Unregister(owner, name); err != nil {
			if errors.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Errorw("Failed to unregister job", "owner", owner, "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to unregister job")
			return
		}
		s.logger.Infow("Unregistered job", "job", owner+":"+name)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request, owner, name, action string) {
	switch action {
	case "enable", "disable":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		enabled := action == "enable"
		if err := s.jobs.SetEnabled(owner, name, enabled); err != nil {
			if errors.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Errorw("Failed to update job", "owner", owner, "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to update job")
			return
		}
		s.logger.Infow("Updated job enabled flag", "job", owner+":"+name, "enabled", enabled)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})

	case "schedule":
		if !requireMethod(w, r, http.MethodPut) {
			return
		}
		var req updateScheduleRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		err := s.jobs.UpdateSchedule(owner, name, schedule.ScheduleKind(req.Kind), req.Spec)
		if err != nil {
			switch {
			case errors.IsNotFound(err):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.IsInvalidSchedule(err):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				s.logger.Errorw("Failed to update schedule", "owner", owner, "name", name, "error", err)
				writeError(w, http.StatusInternalServerError, "Failed to update schedule")
			}
			return
		}
		s.logger.Infow("Updated job schedule", "job", owner+":"+name, "schedule_kind", req.Kind, "schedule_spec", req.Spec)
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	default:
		writeError(w, http.StatusNotFound, "Unknown job action: "+action)
	}
}
