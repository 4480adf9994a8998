package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(evt services.Event) {
	fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Data)
	s.flusher.Flush()
}

func (s *sseWriter) ping() {
	fmt.Fprint(s.w, ": ping\n\n")
	s.flusher.Flush()
}

// lastEventID resumes a stream from the Last-Event-ID header or ?since=.
func lastEventID(r *http.Request) (uint64, error) {
	if h := r.Header.Get("Last-Event-ID"); h != "" {
		return strconv.ParseUint(h, 10, 64)
	}
	since, err := queryInt(r, "since", 0)
	return uint64(since), err
}

// handleJobSSE streams progress of one job. Retained history is replayed
// first; the stream ends after the job's terminal event.
// GET /v1/jobs/{id}/stream
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := lastEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid last event id")
		return
	}

	job, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Subscribe before reading history so nothing published in between is lost.
	ch, unsub := s.jobs.Subscribe(id)
	defer unsub()

	history, err := s.jobs.EventsSince(id, since)
	if err != nil {
		// Archived job from a previous run: no history, only its final state.
		history = []services.Event{archivedEvent(job)}
	}

	sse, ok := startSSE(w)
	if !ok {
		return
	}

	last := since
	for _, evt := range history {
		sse.event(evt)
		last = evt.Seq
		if evt.Type.IsTerminal() {
			return
		}
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.ping()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Seq <= last {
				continue
			}
			sse.event(evt)
			last = evt.Seq
			if evt.Type.IsTerminal() {
				return
			}
		}
	}
}

// handleBroadcastSSE streams live events of every job.
// GET /v1/events
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	ch, unsub := s.jobs.SubscribeAll()
	defer unsub()

	sse, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.ping()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			sse.event(evt)
		}
	}
}

// archivedEvent renders the final state of a job that has no retained
// events.
func archivedEvent(job domain.Job) services.Event {
	evtType := services.EventTypeJobQueued
	switch job.Status {
	case domain.JobStatusCompleted:
		evtType = services.EventTypeJobCompleted
	case domain.JobStatusFailed:
		evtType = services.EventTypeJobFailed
	case domain.JobStatusCancelled:
		evtType = services.EventTypeJobCancelled
	}

	update := domain.ProgressFor(job, nil)
	update.Message = services.ProgressMessage(evtType, update)
	data, _ := json.Marshal(update)
	ts := job.CreatedAt
	if job.CompletedAt != nil {
		ts = *job.CompletedAt
	}
	return services.Event{
		JobID:     string(job.ID),
		Type:      evtType,
		Data:      string(data),
		Timestamp: ts.UnixMilli(),
	}
}
