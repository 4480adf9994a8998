package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/services"
)

// bindJobID extracts the {id} path parameter.
func bindJobID(r *http.Request) (domain.JobID, error) {
	id, err := bindPathID(r)
	if err != nil {
		return "", fmt.Errorf("invalid job id: %w", err)
	}
	return domain.JobID(id), nil
}

func bindPathID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	return id, err
}

// queryInt binds an optional integer query parameter, returning def when it
// is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	var v *int
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v == nil {
		return def, nil
	}
	return *v, nil
}

func queryString(r *http.Request, name string) (string, error) {
	var v *string
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return "", fmt.Errorf("invalid %s: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	var v *bool
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v != nil && *v, nil
}

// handleSubmitJob accepts a new job.
// POST /v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req domain.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs returns in-memory jobs, or archived ones with
// ?archived=true, newest first.
// GET /v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status, err := queryString(r, "status")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	archived, err := queryBool(r, "archived")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := services.JobFilter{Status: domain.JobStatus(status), Limit: limit}
	var jobs []domain.Job
	if archived {
		jobs, err = s.jobs.ListArchived(r.Context(), filter)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
	} else {
		jobs = s.jobs.List(filter)
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob requests cancellation. Running jobs stop at the next stage
// boundary.
// POST /v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := s.jobs.RequestCancel(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "job has already finished",
			"cancelled": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// handleJobEvents returns retained events for clients that poll.
// GET /v1/jobs/{id}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := queryInt(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.jobs.EventsSince(id, uint64(since))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []services.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleDownloadVideo streams the rendered MP4 of a completed job.
// GET /v1/jobs/{id}/video
func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.Status != domain.JobStatusCompleted || job.Artifacts.Video == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no video available", job.Status))
		return
	}

	location := job.Artifacts.Video.Location
	if _, err := os.Stat(location); err != nil {
		writeError(w, http.StatusNotFound, "video file is no longer available")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(location)))
	http.ServeFile(w, r, location)
}
