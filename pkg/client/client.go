// Package client provides the API client for the ReelForge kernel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
	"github.com/manthysbr/reelforge/internal/core/services"
)

const (
	// DefaultTimeout is the default timeout for API requests
	DefaultTimeout = 30 * time.Second
	// DefaultBaseURL is where a locally started kernel listens
	DefaultBaseURL = "http://localhost:8080"
)

// Client is the interface for the kernel API client
type Client interface {
	SubmitJob(ctx context.Context, req domain.JobRequest) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, status string, limit int) ([]domain.Job, error)
	// CancelJob reports false when the job had already finished.
	CancelJob(ctx context.Context, id string) (bool, error)
	JobEvents(ctx context.Context, id string, since uint64) ([]services.Event, error)
	DownloadVideo(ctx context.Context, id string, w io.Writer) (int64, error)

	Topics(ctx context.Context, subreddit string, limit int) ([]ports.Topic, error)
	Videos(ctx context.Context, limit int) ([]ports.Video, error)
	GetVideo(ctx context.Context, id string) (ports.Video, error)
	DeleteVideo(ctx context.Context, id string) error

	GetSettings(ctx context.Context) (*domain.AppConfig, error)
	UpdateSettings(ctx context.Context, patch map[string]any) (*domain.AppConfig, error)

	Health(ctx context.Context) (Health, error)
}

var _ Client = &APIClient{}

// Health mirrors the kernel health report.
type Health struct {
	Status     string                   `json:"status"`
	ActiveJobs int                      `json:"active_jobs"`
	Jobs       map[domain.JobStatus]int `json:"jobs"`
	Checks     map[string]string        `json:"checks"`
}

// Options contains configuration options for the API client
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		baseURL: u.String(),
		timeout: timeout,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body any) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodPut:
		agent = fiber.Put(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Accept", "application/json")
	if body != nil {
		agent.JSON(body)
	}
	return agent, nil
}

// doRequest sends the request and decodes a JSON response into v.
func (c *APIClient) doRequest(agent *fiber.Agent, v any) error {
	body, err := c.send(agent)
	if err != nil {
		return err
	}
	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}

// send executes the request. Non-2xx responses become *fiber.Error carrying
// the kernel's error message.
func (c *APIClient) send(agent *fiber.Agent) ([]byte, error) {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}

	if statusCode < 200 || statusCode >= 300 {
		msg := string(body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &fiber.Error{Code: statusCode, Message: msg}
	}
	return body, nil
}

func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response any) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(agent, response)
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func jobPath(id string, suffix string) string {
	return "/v1/jobs/" + url.PathEscape(id) + suffix
}

func (c *APIClient) SubmitJob(ctx context.Context, req domain.JobRequest) (domain.Job, error) {
	var job domain.Job
	err := c.executeRequest(ctx, http.MethodPost, "/v1/jobs", req, &job)
	return job, err
}

func (c *APIClient) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var job domain.Job
	err := c.executeRequest(ctx, http.MethodGet, jobPath(id, ""), nil, &job)
	return job, err
}

func (c *APIClient) ListJobs(ctx context.Context, status string, limit int) ([]domain.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, withQuery("/v1/jobs", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *APIClient) CancelJob(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.executeRequest(ctx, http.MethodPost, jobPath(id, "/cancel"), nil, &resp)
	if StatusCode(err) == http.StatusConflict {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

func (c *APIClient) JobEvents(ctx context.Context, id string, since uint64) ([]services.Event, error) {
	q := url.Values{}
	if since > 0 {
		q.Set("since", strconv.FormatUint(since, 10))
	}

	var resp struct {
		Events []services.Event `json:"events"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, withQuery(jobPath(id, "/events"), q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// DownloadVideo copies the rendered MP4 of a completed job into w.
func (c *APIClient) DownloadVideo(ctx context.Context, id string, w io.Writer) (int64, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, jobPath(id, "/video"), nil)
	if err != nil {
		return 0, err
	}
	body, err := c.send(agent)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(body)
	return int64(n), err
}

func (c *APIClient) Topics(ctx context.Context, subreddit string, limit int) ([]ports.Topic, error) {
	q := url.Values{}
	if subreddit != "" {
		q.Set("subreddit", subreddit)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Topics []ports.Topic `json:"topics"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, withQuery("/v1/topics", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Topics, nil
}

func (c *APIClient) Videos(ctx context.Context, limit int) ([]ports.Video, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Videos []ports.Video `json:"videos"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, withQuery("/v1/videos", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Videos, nil
}

func (c *APIClient) GetVideo(ctx context.Context, id string) (ports.Video, error) {
	var video ports.Video
	err := c.executeRequest(ctx, http.MethodGet, "/v1/videos/"+url.PathEscape(id), nil, &video)
	return video, err
}

// DeleteVideo removes the video file and the job that produced it.
func (c *APIClient) DeleteVideo(ctx context.Context, id string) error {
	return c.executeRequest(ctx, http.MethodDelete, "/v1/videos/"+url.PathEscape(id), nil, nil)
}

func (c *APIClient) GetSettings(ctx context.Context) (*domain.AppConfig, error) {
	var cfg domain.AppConfig
	if err := c.executeRequest(ctx, http.MethodGet, "/v1/settings", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateSettings sends a partial settings document; omitted fields keep
// their current values.
func (c *APIClient) UpdateSettings(ctx context.Context, patch map[string]any) (*domain.AppConfig, error) {
	var cfg domain.AppConfig
	if err := c.executeRequest(ctx, http.MethodPut, "/v1/settings", patch, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *APIClient) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.executeRequest(ctx, http.MethodGet, "/v1/health", nil, &h)
	return h, err
}
