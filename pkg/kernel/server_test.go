package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/manthysbr/reelforge/internal/config"
	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
	"github.com/manthysbr/reelforge/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScript struct {
	release chan struct{} // nil means return immediately
}

func (s *stubScript) Generate(ctx context.Context, topic string, _ domain.Style, _ int) (string, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "A short narration about " + topic + ".", nil
}

type stubImages struct{}

func (stubImages) Search(_ context.Context, _ string, count int) ([]domain.ImageRef, error) {
	refs := make([]domain.ImageRef, count)
	for i := range refs {
		refs[i] = domain.ImageRef{Location: "/tmp/img.jpg", Width: 1080, Height: 1920, Source: "stub"}
	}
	return refs, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(context.Context, string) (domain.AudioRef, error) {
	return domain.AudioRef{Location: "/tmp/narration.mp3", DurationSeconds: 9}, nil
}

type stubEncoder struct {
	location string
}

func (e stubEncoder) Assemble(context.Context, domain.EncodeRequest) (domain.VideoDescriptor, error) {
	return domain.VideoDescriptor{
		ID:              "vid-1",
		Location:        e.location,
		DurationSeconds: 9,
		FileSizeBytes:   9,
		Resolution:      "1080x1920",
	}, nil
}

type stubTopics struct {
	topics []ports.Topic
	err    error

	subreddit string
	limit     int
}

func (s *stubTopics) TrendingTopics(_ context.Context, subreddit string, limit int) ([]ports.Topic, error) {
	s.subreddit = subreddit
	s.limit = limit
	return s.topics, s.err
}

type memorySettings struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memorySettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("setting not found")
	}
	return v, nil
}

func (m *memorySettings) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type fixture struct {
	server   *Server
	http     *httptest.Server
	jobs     *services.JobService
	settings *config.SettingsStore
	script   *stubScript
	video    string
}

func newFixture(t *testing.T, checks map[string]HealthCheck, topics ports.TopicSource) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	video := filepath.Join(t.TempDir(), "video_vid-1.mp4")
	require.NoError(t, os.WriteFile(video, []byte("mp4 bytes"), 0o644))

	script := &stubScript{}
	collab := domain.Collaborators{
		Script: script,
		Images: stubImages{},
		Speech: stubSpeech{},
		Video:  stubEncoder{location: video},
	}

	store := services.NewJobStore()
	bus := services.NewEventBus(logger)
	executor := services.NewPipelineExecutor(logger, store, bus, collab, services.PipelineConfig{SecondsPerImage: 8, WordsPerMinute: 150})
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{})
	workspace := services.NewWorkspaceManager(t.TempDir())
	jobs := services.NewJobService(logger, store, executor, scheduler, workspace, bus, nil, services.JobServiceConfig{DefaultDurationSeconds: 16})
	require.NoError(t, jobs.Run(context.Background()))

	base := domain.DefaultConfig()
	base.Providers.Images.PexelsAPIKey = "pexels-secret-value"
	settings, err := config.NewSettingsStore(context.Background(), logger, &memorySettings{data: map[string]string{}}, config.NewSecretKeyFromPassphrase("kernel-test"), base)
	require.NoError(t, err)

	server, err := NewServer(logger, jobs, settings, topics, checks)
	require.NoError(t, err)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{server: server, http: srv, jobs: jobs, settings: settings, script: script, video: video}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (f *fixture) submit(t *testing.T, topic string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/v1/jobs", `{"topic":"`+topic+`","duration_seconds":16}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestServer_SubmitAndGet(t *testing.T) {
	f := newFixture(t, nil, nil)

	id := f.submit(t, "Ocean cleanup")
	f.jobs.Wait()

	resp, body := f.do(t, http.MethodGet, "/v1/jobs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 100, body["progress_percent"])

	resp, body = f.do(t, http.MethodGet, "/v1/jobs?status=completed&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = f.do(t, http.MethodGet, "/v1/jobs?status=failed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["jobs"])

	resp, body = f.do(t, http.MethodGet, "/v1/jobs?archived=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestServer_SubmitValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty topic", `{"topic":"   "}`, "topic is required"},
		{"unknown style", `{"topic":"Mars","style":"opera"}`, "unknown style"},
		{"negative duration", `{"topic":"Mars","duration_seconds":-5}`, "duration"},
		{"wrong type", `{"topic":42}`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body["error"], tt.want)
		})
	}

	assert.Empty(t, f.jobs.List(services.JobFilter{}), "rejected requests create no job")
}

func TestServer_QueryValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, body := f.do(t, http.MethodGet, "/v1/jobs?status=exploded", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "status")

	resp, _ = f.do(t, http.MethodGet, "/v1/jobs?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/jobs?archived=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownJob(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, path := range []string{"/v1/jobs/nope", "/v1/jobs/nope/events", "/v1/jobs/nope/stream", "/v1/jobs/nope/video"} {
		resp, body := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Contains(t, body["error"], "not found", path)
	}

	resp, _ := f.do(t, http.MethodPost, "/v1/jobs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Cancel(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.script.release = make(chan struct{})

	id := f.submit(t, "Slow topic")

	resp, body := f.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	close(f.script.release)
	f.jobs.Wait()

	job, err := f.jobs.GetStatus(context.Background(), domain.JobID(id))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)

	resp, body = f.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["cancelled"])
}

func TestServer_EventsPoll(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.submit(t, "Comets")
	f.jobs.Wait()

	resp, body := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ := body["events"].([]any)
	require.NotEmpty(t, events)
	first := events[0].(map[string]any)
	last := events[len(events)-1].(map[string]any)
	assert.Equal(t, "job.queued", first["type"])
	assert.Equal(t, "job.completed", last["type"])

	resp, body = f.do(t, http.MethodGet, "/v1/jobs/"+id+"/events?since=1000", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["events"])
}

func TestServer_StreamEndsAfterTerminalEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.submit(t, "Auroras")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/v1/jobs/"+id+"/stream", nil)
	require.NoError(t, err)

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(raw)

	assert.Contains(t, stream, "event: job.queued\n")
	assert.Contains(t, stream, "event: stage.completed\n")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(stream), "}"))
	assert.Contains(t, stream, "event: job.completed\n")
	assert.Equal(t, 1, strings.Count(stream, "event: job.completed"))
	assert.Contains(t, stream, `"message":"Generating AI script..."`)
	assert.Contains(t, stream, `"message":"Video ready"`)
}

func TestServer_StreamResumesFromLastEventID(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.submit(t, "Glaciers")
	f.jobs.Wait()

	events, err := f.jobs.EventsSince(domain.JobID(id), 0)
	require.NoError(t, err)
	require.Greater(t, len(events), 2)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/v1/jobs/"+id+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "event: job.queued")
	assert.Contains(t, string(raw), "event: job.completed")
}

func TestServer_BroadcastStream(t *testing.T) {
	f := newFixture(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/v1/events", nil)
	require.NoError(t, err)

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	f.submit(t, "Volcanoes")

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "event: job.completed") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.Contains(t, got.String(), "event: job.queued")
	assert.Contains(t, got.String(), "event: job.completed")
}

func TestServer_VideoLibraryAndDownload(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.submit(t, "Honeybees")
	f.jobs.Wait()

	resp, body := f.do(t, http.MethodGet, "/v1/videos?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	videos, _ := body["videos"].([]any)
	require.Len(t, videos, 1)
	assert.Equal(t, id, videos[0].(map[string]any)["job_id"])

	dl, err := f.http.Client().Get(f.http.URL + "/v1/jobs/" + id + "/video")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(data))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "video_vid-1.mp4")
}

func TestServer_GetAndDeleteVideo(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.submit(t, "Lighthouses")
	f.jobs.Wait()

	resp, body := f.do(t, http.MethodGet, "/v1/videos/vid-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "vid-1", body["id"])
	assert.Equal(t, id, body["job_id"])
	assert.Equal(t, "Lighthouses", body["topic"])

	resp, body = f.do(t, http.MethodGet, "/v1/videos/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "video not found")

	resp, _ = f.do(t, http.MethodDelete, "/v1/videos/vid-1", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err := os.Stat(f.video)
	assert.True(t, os.IsNotExist(err), "mp4 is removed")

	resp, _ = f.do(t, http.MethodGet, "/v1/videos/vid-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/v1/videos/vid-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/jobs/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/videos", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["videos"])
}

func TestServer_Topics(t *testing.T) {
	topics := &stubTopics{topics: []ports.Topic{{ID: "t1", Title: "Rover finds water", Subreddit: "space", Score: 4200}}}
	f := newFixture(t, nil, topics)

	resp, body := f.do(t, http.MethodGet, "/v1/topics?subreddit=space&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, _ := body["topics"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Rover finds water", list[0].(map[string]any)["title"])
	assert.Equal(t, "space", topics.subreddit)
	assert.Equal(t, 5, topics.limit)

	resp, _ = f.do(t, http.MethodGet, "/v1/topics?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	topics.err = errors.New("reddit is down")
	resp, body = f.do(t, http.MethodGet, "/v1/topics", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "reddit is down")

	f.server.SetTopicSource(nil)
	resp, _ = f.do(t, http.MethodGet, "/v1/topics", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Settings(t *testing.T) {
	f := newFixture(t, nil, nil)

	var reloaded *domain.AppConfig
	f.settings.OnChange(func(cfg *domain.AppConfig) { reloaded = cfg })

	resp, body := f.do(t, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	images := body["providers"].(map[string]any)["images"].(map[string]any)
	assert.Equal(t, "****alue", images["pexels_api_key"])

	resp, body = f.do(t, http.MethodPut, "/v1/settings", `{"pipeline":{"words_per_minute":170},"providers":{"images":{"pexels_api_key":"****alue"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	cfg := f.settings.GetConfig()
	assert.Equal(t, 170, cfg.Pipeline.WordsPerMinute)
	assert.Equal(t, 8, cfg.Pipeline.SecondsPerImage, "omitted fields keep their values")
	assert.Equal(t, "pexels-secret-value", cfg.Providers.Images.PexelsAPIKey, "masked secrets are not overwritten")
	require.NotNil(t, reloaded)
	assert.Equal(t, 170, reloaded.Pipeline.WordsPerMinute)

	resp, body = f.do(t, http.MethodPut, "/v1/settings", `{"captions":{"position":"left"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "caption position")
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{
		"ffmpeg":  func(context.Context) error { return nil },
		"ffprobe": func(context.Context) error { return errors.New("executable file not found in $PATH") },
	}, nil)

	resp, body := f.do(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.EqualValues(t, 0, body["active_jobs"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["ffmpeg"])
	assert.Contains(t, checks["ffprobe"], "not found")
}

func TestServer_HealthOK(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{"archive": func(context.Context) error { return nil }}, nil)

	_, body := f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, "ok", body["status"])
}

func TestServer_OpenAPIDocument(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := f.http.Client().Get(f.http.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "openapi: 3.0.3")
}

func TestWithCORS(t *testing.T) {
	f := newFixture(t, nil, nil)
	h := WithCORS(f.server.Handler(), []string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/videos/vid-1", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
