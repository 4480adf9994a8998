package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/manthysbr/reelforge/internal/adapters/ffmpeg"
)

const (
	managedLabel = "reelforge.managed"
	toolLabel    = "reelforge.tool"
)

// API is the subset of the Docker client the runner needs.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// ContainerRunner runs ffmpeg and ffprobe inside a throwaway container. The
// mounted directories appear at the same paths inside the container, so
// callers pass host paths unchanged.
type ContainerRunner struct {
	logger *slog.Logger
	api    API
	image  string
	mounts []string
}

var _ ffmpeg.CommandRunner = (*ContainerRunner)(nil)

// NewClient connects to the Docker daemon from the environment.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewContainerRunner runs commands from image with each of mounts
// bind-mounted read-write. Mount paths must be absolute.
func NewContainerRunner(logger *slog.Logger, api API, image string, mounts ...string) *ContainerRunner {
	return &ContainerRunner{logger: logger, api: api, image: image, mounts: mounts}
}

func (r *ContainerRunner) Run(ctx context.Context, name string, args ...string) (ffmpeg.CommandResult, error) {
	cfg := &container.Config{
		Image:        r.image,
		Entrypoint:   []string{name},
		Cmd:          args,
		Tty:          false,
		AttachStdout: false,
		AttachStderr: false,
		Labels: map[string]string{
			managedLabel: "true",
			toolLabel:    name,
		},
	}

	binds := make([]mount.Mount, 0, len(r.mounts))
	for _, dir := range r.mounts {
		binds = append(binds, mount.Mount{Type: mount.TypeBind, Source: dir, Target: dir})
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts:      binds,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=256m",
		},
	}

	containerName := "reelforge-" + name + "-" + uuid.NewString()[:8]
	resp, err := r.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if client.IsErrNotFound(err) {
		r.logger.Info("pulling encoder image", "image", r.image)
		if pullErr := r.pull(ctx); pullErr != nil {
			return ffmpeg.CommandResult{ExitCode: -1}, pullErr
		}
		resp, err = r.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	}
	if err != nil {
		return ffmpeg.CommandResult{ExitCode: -1}, fmt.Errorf("failed to create container: %w", err)
	}

	// removal must survive cancellation of the job context
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.api.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to remove container", "container", resp.ID, "error", err)
		}
	}()

	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ffmpeg.CommandResult{ExitCode: -1}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-ctx.Done():
		return ffmpeg.CommandResult{ExitCode: -1}, ctx.Err()
	case err := <-errCh:
		return ffmpeg.CommandResult{ExitCode: -1}, fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	result := ffmpeg.CommandResult{ExitCode: exitCode}
	logs, err := r.api.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return result, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return result, fmt.Errorf("failed to demux container logs: %w", err)
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if exitCode != 0 {
		return result, fmt.Errorf("%s exited with status %d", name, exitCode)
	}
	return result, nil
}

func (r *ContainerRunner) pull(ctx context.Context) error {
	reader, err := r.api.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// Ping checks that the daemon is reachable.
func (r *ContainerRunner) Ping(ctx context.Context) error {
	_, err := r.api.Ping(ctx)
	return err
}

// Prune removes containers left behind by a previous process.
func (r *ContainerRunner) Prune(ctx context.Context) (int, error) {
	containers, err := r.api.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: makeFilters(map[string]string{
			"label": managedLabel + "=true",
		}),
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range containers {
		if err := r.api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to prune container", "container", c.ID, "tool", c.Labels[toolLabel], "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func makeFilters(m map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range m {
		args.Add(k, v)
	}
	return args
}
