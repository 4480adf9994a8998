package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
)

const archiveTimeout = 5 * time.Second

// JobServiceConfig holds the submission and housekeeping policy.
type JobServiceConfig struct {
	DefaultDurationSeconds int
	KeepWorkspaces         bool
}

// JobService is the registry callers use to submit, observe and cancel jobs.
type JobService struct {
	logger    *slog.Logger
	store     *JobStore
	executor  *PipelineExecutor
	scheduler *JobScheduler
	workspace *WorkspaceManager
	eventBus  *EventBus
	archive   ports.JobArchive // optional; nil-safe

	mu  sync.RWMutex
	cfg JobServiceConfig
}

func NewJobService(
	logger *slog.Logger,
	store *JobStore,
	executor *PipelineExecutor,
	scheduler *JobScheduler,
	workspace *WorkspaceManager,
	eventBus *EventBus,
	archive ports.JobArchive,
	cfg JobServiceConfig,
) *JobService {
	return &JobService{
		logger:    logger,
		store:     store,
		executor:  executor,
		scheduler: scheduler,
		workspace: workspace,
		eventBus:  eventBus,
		archive:   archive,
		cfg:       cfg,
	}
}

// Run starts the scheduler loop
func (s *JobService) Run(ctx context.Context) error {
	s.scheduler.OnDropped(s.handleDropped)
	s.scheduler.Start(ctx, s.runJob, s.handlePanic)
	return nil
}

// Wait blocks until every dispatched job has returned.
func (s *JobService) Wait() {
	s.scheduler.Wait()
}

// ApplyConfig hot-reloads settings. Jobs already running keep what they
// captured when they started.
func (s *JobService) ApplyConfig(cfg *domain.AppConfig, collab domain.Collaborators) {
	s.mu.Lock()
	s.cfg = JobServiceConfig{
		DefaultDurationSeconds: cfg.Pipeline.DefaultDurationSeconds,
		KeepWorkspaces:         cfg.Storage.KeepWorkspaces,
	}
	s.mu.Unlock()

	s.executor.UpdateConfig(PipelineConfigFrom(cfg.Pipeline))
	s.executor.UpdateCollaborators(collab)
	s.logger.Info("job service reconfigured")
}

func (s *JobService) config() JobServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Submit validates the request, records a queued job and dispatches it.
// Invalid requests never create a record.
func (s *JobService) Submit(ctx context.Context, req domain.JobRequest) (domain.Job, error) {
	defaultDuration := s.config().DefaultDurationSeconds
	if defaultDuration <= 0 {
		defaultDuration = domain.DefaultDurationSeconds
	}

	input, err := req.Normalize(defaultDuration)
	if err != nil {
		return domain.Job{}, err
	}

	job, err := s.store.Create(input)
	if err != nil {
		return domain.Job{}, err
	}
	s.logger.Info("job submitted", "job_id", job.ID, "topic", input.Topic, "duration_seconds", input.DurationSeconds)
	s.eventBus.PublishProgress(EventTypeJobQueued, domain.ProgressFor(job, nil))

	if err := s.scheduler.SubmitJob(job.ID); err != nil {
		s.logger.Error("failed to dispatch job", "job_id", job.ID, "error", err)
		if abortErr := s.executor.Abort(job.ID, fmt.Sprintf("job could not be scheduled: %v", err)); abortErr != nil {
			s.logger.Error("failed to abort undispatched job", "job_id", job.ID, "error", abortErr)
		}
		s.archiveJob(ctx, job.ID)
		return domain.Job{}, fmt.Errorf("failed to dispatch job: %w", err)
	}

	return job, nil
}

// GetStatus returns a snapshot of the job, falling back to the archive for
// jobs from previous runs.
func (s *JobService) GetStatus(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.store.Get(id)
	if err == nil || !errors.Is(err, domain.ErrJobNotFound) || s.archive == nil {
		return job, err
	}

	archived, archiveErr := s.archive.GetJob(ctx, id)
	if archiveErr != nil {
		if !errors.Is(archiveErr, domain.ErrJobNotFound) {
			s.logger.Warn("archive lookup failed", "job_id", id, "error", archiveErr)
		}
		return domain.Job{}, err
	}
	return archived, nil
}

// RequestCancel asks for a job to stop. It reports false when the job is
// already terminal.
func (s *JobService) RequestCancel(ctx context.Context, id domain.JobID) (bool, error) {
	accepted, job, err := s.store.RequestCancel(id)
	if err != nil {
		return false, err
	}
	if !accepted {
		return false, nil
	}

	s.logger.Info("cancellation requested", "job_id", id, "status", job.Status)
	if job.Status == domain.JobStatusCancelled {
		// Queued jobs are cancelled on the spot; the scheduler skips them.
		s.eventBus.PublishProgress(EventTypeJobCancelled, domain.ProgressFor(job, nil))
		s.archiveJob(ctx, id)
	}
	return true, nil
}

// List returns in-memory jobs, newest first.
func (s *JobService) List(filter JobFilter) []domain.Job {
	return s.store.List(filter)
}

// ListArchived returns finished jobs from the archive, newest first. Without
// an archive it falls back to the terminal jobs still held in memory.
func (s *JobService) ListArchived(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	if s.archive == nil {
		jobs := []domain.Job{}
		for _, job := range s.store.List(JobFilter{Status: filter.Status}) {
			if !job.Status.IsTerminal() {
				continue
			}
			jobs = append(jobs, job)
			if filter.Limit > 0 && len(jobs) == filter.Limit {
				break
			}
		}
		return jobs, nil
	}

	// The archive has no status index; over-fetch when filtering.
	fetch := filter.Limit
	if filter.Status != "" {
		fetch = 0
	}
	archived, err := s.archive.ListJobs(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	jobs := []domain.Job{}
	for _, job := range archived {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
		if filter.Limit > 0 && len(jobs) == filter.Limit {
			break
		}
	}
	return jobs, nil
}

// Stats counts in-memory jobs by status.
func (s *JobService) Stats() map[domain.JobStatus]int {
	return s.store.CountByStatus()
}

// Subscribe streams the events of one job.
func (s *JobService) Subscribe(id domain.JobID) (<-chan Event, func()) {
	return s.eventBus.Subscribe(string(id))
}

// SubscribeAll streams the events of every job.
func (s *JobService) SubscribeAll() (<-chan Event, func()) {
	return s.eventBus.SubscribeGlobal()
}

// EventsSince returns retained events of a job newer than seq.
func (s *JobService) EventsSince(id domain.JobID, seq uint64) ([]Event, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	return s.eventBus.Since(string(id), seq), nil
}

// ListVideos returns the library of finished videos, newest first.
func (s *JobService) ListVideos(ctx context.Context, limit int) ([]ports.Video, error) {
	if s.archive != nil {
		videos, err := s.archive.ListVideos(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list videos: %w", err)
		}
		return videos, nil
	}

	videos := []ports.Video{}
	for _, job := range s.store.List(JobFilter{Status: domain.JobStatusCompleted}) {
		if v, ok := ports.VideoFromJob(job); ok {
			videos = append(videos, v)
		}
		if limit > 0 && len(videos) == limit {
			break
		}
	}
	return videos, nil
}

// GetVideo returns a finished video by its ID.
func (s *JobService) GetVideo(ctx context.Context, id string) (ports.Video, error) {
	if s.archive != nil {
		video, err := s.archive.GetVideo(ctx, id)
		if err != nil {
			return ports.Video{}, fmt.Errorf("failed to get video: %w", err)
		}
		return video, nil
	}

	for _, job := range s.store.List(JobFilter{Status: domain.JobStatusCompleted}) {
		if v, ok := ports.VideoFromJob(job); ok && v.ID == id {
			return v, nil
		}
	}
	return ports.Video{}, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
}

// DeleteVideo removes a video file and forgets the job that produced it.
// The file goes first so a failed removal can be retried.
func (s *JobService) DeleteVideo(ctx context.Context, id string) error {
	video, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}

	if err := os.Remove(video.Location); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove video file %s: %w", video.Location, err)
	}
	if s.archive != nil {
		if err := s.archive.DeleteVideo(ctx, id); err != nil {
			return fmt.Errorf("failed to delete video: %w", err)
		}
	}
	s.store.Delete(video.JobID)

	s.logger.Info("video deleted", "video_id", id, "job_id", video.JobID, "path", video.Location)
	return nil
}

// runJob is the callback for the scheduler
func (s *JobService) runJob(ctx context.Context, id domain.JobID) {
	cfg := s.config()

	wsPath, err := s.workspace.PrepareWorkspace(string(id))
	if err != nil {
		s.logger.Error("workspace prep failed", "job_id", id, "error", err)
		if abortErr := s.executor.Abort(id, fmt.Sprintf("workspace prep failed: %v", err)); abortErr != nil {
			s.logger.Error("failed to abort job", "job_id", id, "error", abortErr)
		}
		s.archiveJob(ctx, id)
		return
	}
	s.logger.Debug("workspace prepared", "job_id", id, "path", wsPath)

	if err := s.executor.Execute(domain.WithWorkspace(ctx, wsPath), id); err != nil {
		s.logger.Error("job execution error", "job_id", id, "error", err)
		if abortErr := s.executor.Abort(id, err.Error()); abortErr != nil {
			s.logger.Error("failed to abort job", "job_id", id, "error", abortErr)
		}
	}

	if !cfg.KeepWorkspaces {
		if err := s.workspace.CleanupWorkspace(string(id)); err != nil {
			s.logger.Warn("workspace cleanup failed", "job_id", id, "error", err)
		}
	}
	s.archiveJob(ctx, id)
}

func (s *JobService) handlePanic(id domain.JobID, recovered any) {
	if err := s.executor.Abort(id, fmt.Sprintf("internal error: %v", recovered)); err != nil {
		s.logger.Error("failed to fail panicked job", "job_id", id, "error", err)
	}
	s.archiveJob(context.Background(), id)
}

// handleDropped fails a queued job whose slot never came.
func (s *JobService) handleDropped(id domain.JobID, reason error) {
	if err := s.executor.Abort(id, "scheduler stopped before the job started"); err != nil {
		s.logger.Error("failed to fail dropped job", "job_id", id, "error", err, "reason", reason)
	}
	s.archiveJob(context.Background(), id)
}

// archiveJob writes the job's terminal snapshot. Failures are logged only.
func (s *JobService) archiveJob(ctx context.Context, id domain.JobID) {
	if s.archive == nil {
		return
	}
	job, err := s.store.Get(id)
	if err != nil || !job.Status.IsTerminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archive.SaveJob(ctx, job); err != nil {
		s.logger.Warn("failed to archive job", "job_id", id, "error", err)
	}
}
