package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Options{BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(&Options{BaseURL: "localhost"})
	assert.Error(t, err)

	c, err := NewClient(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestAPIClient_SubmitJob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var req domain.JobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Deep sea vents", req.Topic)
		assert.Equal(t, domain.StyleDocumentary, req.Style)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(domain.Job{ID: "job-1", Status: domain.JobStatusQueued})
	})

	job, err := c.SubmitJob(context.Background(), domain.JobRequest{Topic: "Deep sea vents", Style: domain.StyleDocumentary})
	require.NoError(t, err)
	assert.Equal(t, domain.JobID("job-1"), job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}

func TestAPIClient_ErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"job nope not found"}`))
	})

	_, err := c.GetJob(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "job nope not found")
}

func TestAPIClient_ListJobsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "running", r.URL.Query().Get("status"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"jobs":[{"id":"a","status":"running"},{"id":"b","status":"running"}],"count":2}`))
	})

	jobs, err := c.ListJobs(context.Background(), "running", 3)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobID("b"), jobs[1].ID)
}

func TestAPIClient_CancelJob(t *testing.T) {
	status := http.StatusOK
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/j1/cancel", r.URL.Path)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"cancelled":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"job has already finished","cancelled":false}`))
	})

	ok, err := c.CancelJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	status = http.StatusConflict
	ok, err = c.CancelJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusNotFound
	_, err = c.CancelJob(context.Background(), "j1")
	assert.Error(t, err)
}

func TestAPIClient_JobEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/j1/events", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`{"events":[{"job_id":"j1","seq":5,"type":"stage.started","data":"{\"job_id\":\"j1\",\"status\":\"running\",\"stage\":\"audio\",\"progress\":50}"}]}`))
	})

	events, err := c.JobEvents(context.Background(), "j1", 4)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(5), events[0].Seq)

	update, err := events[0].Progress()
	require.NoError(t, err)
	assert.Equal(t, 50, update.Progress)
	require.NotNil(t, update.Stage)
	assert.Equal(t, domain.StageAudio, *update.Stage)
}

func TestAPIClient_DownloadVideo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/j1/video", r.URL.Path)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4 bytes"))
	})

	var buf bytes.Buffer
	n, err := c.DownloadVideo(context.Background(), "j1", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "mp4 bytes", buf.String())
}

func TestAPIClient_GetAndDeleteVideo(t *testing.T) {
	deleted := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/videos/vid-1", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			if deleted {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"video not found: vid-1"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"vid-1","job_id":"j1","topic":"Lighthouses","location":"/out/video_vid-1.mp4"}`))
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	ctx := context.Background()

	video, err := c.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", video.ID)
	assert.Equal(t, domain.JobID("j1"), video.JobID)
	assert.Equal(t, "Lighthouses", video.Topic)

	require.NoError(t, c.DeleteVideo(ctx, "vid-1"))

	_, err = c.GetVideo(ctx, "vid-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "video not found")
}

func TestAPIClient_UpdateSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var patch map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		assert.Equal(t, map[string]any{"pipeline": map[string]any{"words_per_minute": float64(170)}}, patch)
		_, _ = w.Write([]byte(`{"pipeline":{"words_per_minute":170}}`))
	})

	cfg, err := c.UpdateSettings(context.Background(), map[string]any{"pipeline": map[string]any{"words_per_minute": 170}})
	require.NoError(t, err)
	assert.Equal(t, 170, cfg.Pipeline.WordsPerMinute)
}

func TestAPIClient_TopicsAndHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/topics":
			assert.Equal(t, "science", r.URL.Query().Get("subreddit"))
			_, _ = w.Write([]byte(`{"topics":[{"id":"t1","title":"New exoplanet","score":900}]}`))
		case "/v1/health":
			_, _ = w.Write([]byte(`{"status":"degraded","active_jobs":2,"checks":{"ffmpeg":"ok","ffprobe":"missing"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	topics, err := c.Topics(context.Background(), "science", 0)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "New exoplanet", topics[0].Title)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, 2, h.ActiveJobs)
	assert.Equal(t, "missing", h.Checks["ffprobe"])
}
