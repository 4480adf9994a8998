package kernel

import (
	"net/http"

	"github.com/manthysbr/reelforge/internal/core/ports"
)

// handleListTopics suggests trending Reddit posts as job topics.
// GET /v1/topics
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	src := s.topicSource()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "topic discovery is not configured")
		return
	}

	subreddit, err := queryString(r, "subreddit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	topics, err := src.TrendingTopics(r.Context(), subreddit, limit)
	if err != nil {
		s.logger.Warn("topic discovery failed", "subreddit", subreddit, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if topics == nil {
		topics = []ports.Topic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// GET /v1/videos
func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	videos, err := s.jobs.ListVideos(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if videos == nil {
		videos = []ports.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// GET /v1/videos/{id}
func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid video id: "+err.Error())
		return
	}

	video, err := s.jobs.GetVideo(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

// handleDeleteVideo removes the file and the job behind it.
// DELETE /v1/videos/{id}
func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid video id: "+err.Error())
		return
	}

	if err := s.jobs.DeleteVideo(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
