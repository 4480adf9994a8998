package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	missingImage bool
	exitCode     int64
	stdout       string
	stderr       string

	pulled  []string
	created []*container.Config
	hosts   []*container.HostConfig
	started []string
	removed []string
	listed  []container.Summary
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	f.missingImage = false
	return io.NopCloser(bytes.NewBufferString(`{"status":"done"}`)), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.missingImage {
		return container.CreateResponse{}, errdefs.NotFound(errors.New("no such image"))
	}
	f.created = append(f.created, cfg)
	f.hosts = append(f.hosts, host)
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeAPI) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: f.exitCode}
	return status, make(chan error)
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeAPI) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	return f.listed, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestContainerRunner_Run(t *testing.T) {
	api := &fakeAPI{stdout: "12.5\n", stderr: "probe warnings"}
	r := NewContainerRunner(discardLogger(), api, "linuxserver/ffmpeg:latest", "/data/workspace", "/data/output")

	res, err := r.Run(context.Background(), "ffprobe", "-v", "error", "/data/output/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "12.5\n", res.Stdout)
	assert.Equal(t, "probe warnings", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)

	require.Len(t, api.created, 1)
	cfg := api.created[0]
	assert.Equal(t, []string{"ffprobe"}, []string(cfg.Entrypoint))
	assert.Equal(t, []string{"-v", "error", "/data/output/v.mp4"}, []string(cfg.Cmd))
	assert.Equal(t, "true", cfg.Labels[managedLabel])

	host := api.hosts[0]
	assert.Equal(t, container.NetworkMode("none"), host.NetworkMode)
	require.Len(t, host.Mounts, 2)
	assert.Equal(t, "/data/workspace", host.Mounts[0].Source)
	assert.Equal(t, "/data/workspace", host.Mounts[0].Target)

	assert.Equal(t, []string{"c1"}, api.started)
	assert.Equal(t, []string{"c1"}, api.removed)
	assert.Empty(t, api.pulled)
}

func TestContainerRunner_PullsMissingImage(t *testing.T) {
	api := &fakeAPI{missingImage: true}
	r := NewContainerRunner(discardLogger(), api, "linuxserver/ffmpeg:latest")

	_, err := r.Run(context.Background(), "ffmpeg", "-version")
	require.NoError(t, err)
	assert.Equal(t, []string{"linuxserver/ffmpeg:latest"}, api.pulled)
	assert.Len(t, api.created, 1)
}

func TestContainerRunner_NonZeroExit(t *testing.T) {
	api := &fakeAPI{exitCode: 1, stderr: "Invalid data found when processing input"}
	r := NewContainerRunner(discardLogger(), api, "img")

	res, err := r.Run(context.Background(), "ffmpeg", "-i", "bad.mp3")
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Invalid data")
	assert.Equal(t, []string{"c1"}, api.removed)
}

func TestContainerRunner_Prune(t *testing.T) {
	api := &fakeAPI{listed: []container.Summary{{ID: "old1"}, {ID: "old2"}}}
	r := NewContainerRunner(discardLogger(), api, "img")

	n, err := r.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"old1", "old2"}, api.removed)
}
