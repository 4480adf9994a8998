package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"golang.org/x/sync/errgroup"
)

// errRunStopped ends a run whose job has already reached a terminal state.
var errRunStopped = errors.New("job reached a terminal state")

// PipelineConfig is the execution policy captured by each run.
type PipelineConfig struct {
	SecondsPerImage int
	WordsPerMinute  int
	StageTimeout    time.Duration // 0 disables
	ParallelMedia   bool
}

// PipelineConfigFrom converts persisted settings into an execution policy.
func PipelineConfigFrom(s domain.PipelineSettings) PipelineConfig {
	return PipelineConfig{
		SecondsPerImage: s.SecondsPerImage,
		WordsPerMinute:  s.WordsPerMinute,
		StageTimeout:    time.Duration(s.StageTimeoutSeconds) * time.Second,
		ParallelMedia:   s.ParallelMedia,
	}
}

// PipelineExecutor drives a job through script, images, audio and video.
type PipelineExecutor struct {
	logger   *slog.Logger
	store    *JobStore
	eventBus *EventBus
	now      func() time.Time

	mu     sync.RWMutex
	collab domain.Collaborators
	cfg    PipelineConfig
}

func NewPipelineExecutor(logger *slog.Logger, store *JobStore, eventBus *EventBus, collab domain.Collaborators, cfg PipelineConfig) *PipelineExecutor {
	return &PipelineExecutor{
		logger:   logger,
		store:    store,
		eventBus: eventBus,
		now:      func() time.Time { return time.Now().UTC() },
		collab:   collab,
		cfg:      cfg,
	}
}

// UpdateCollaborators swaps the collaborators used by jobs started from now on.
func (e *PipelineExecutor) UpdateCollaborators(collab domain.Collaborators) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collab = collab
}

// UpdateConfig swaps the execution policy used by jobs started from now on.
func (e *PipelineExecutor) UpdateConfig(cfg PipelineConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *PipelineExecutor) snapshot() (domain.Collaborators, PipelineConfig) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collab, e.cfg
}

// Execute runs the job to a terminal state. Collaborator failures end the
// job as failed and are not returned; the error is reserved for store
// inconsistencies.
func (e *PipelineExecutor) Execute(ctx context.Context, id domain.JobID) error {
	collab, cfg := e.snapshot()

	job, err := e.store.Update(id, func(j *domain.Job) error {
		return j.Start(e.now())
	})
	if err != nil {
		if job.Status == domain.JobStatusCancelled {
			e.logger.Info("skipping cancelled job", "job_id", id)
			return nil
		}
		return fmt.Errorf("failed to start job %s: %w", id, err)
	}

	e.logger.Info("executing job", "job_id", id, "topic", job.Input.Topic, "style", job.Input.Style)
	run := &pipelineRun{
		executor: e,
		id:       id,
		input:    job.Input,
		collab:   collab,
		cfg:      cfg,
	}
	if err := run.execute(ctx); err != nil && !errors.Is(err, errRunStopped) {
		return err
	}
	return nil
}

// Abort fails a job that could not be executed, blaming its current stage
// (script when no stage has begun). Terminal jobs are left untouched.
func (e *PipelineExecutor) Abort(id domain.JobID, message string) error {
	stage := domain.StageScript
	aborted := false
	job, err := e.store.Update(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return nil
		}
		aborted = true
		if j.Status == domain.JobStatusQueued {
			if err := j.Start(e.now()); err != nil {
				return err
			}
		}
		if j.CurrentStage != nil && *j.CurrentStage != domain.StageDone && *j.CurrentStage != domain.StageError {
			stage = *j.CurrentStage
		}
		return j.Fail(stage, message, e.now())
	})
	if err != nil {
		return err
	}
	if aborted {
		e.logger.Error("job aborted", "job_id", id, "stage", stage, "error", message)
		e.publish(EventTypeJobFailed, job, nil)
	}
	return nil
}

func (e *PipelineExecutor) publish(t EventType, job domain.Job, stage *domain.Stage) {
	e.eventBus.PublishProgress(t, domain.ProgressFor(job, stage))
}

// pipelineRun holds the state of one execution.
type pipelineRun struct {
	executor *PipelineExecutor
	id       domain.JobID
	input    domain.JobInput
	collab   domain.Collaborators
	cfg      PipelineConfig

	script string
	images []domain.ImageRef
	audio  domain.AudioRef
}

func (r *pipelineRun) execute(ctx context.Context) error {
	if err := r.runScript(ctx); err != nil {
		return err
	}
	if r.cfg.ParallelMedia {
		if err := r.runMediaParallel(ctx); err != nil {
			return err
		}
	} else {
		if err := r.runImages(ctx); err != nil {
			return err
		}
		if err := r.runAudio(ctx); err != nil {
			return err
		}
	}
	return r.runVideo(ctx)
}

func (r *pipelineRun) runScript(ctx context.Context) error {
	if err := r.begin(domain.StageScript); err != nil {
		return err
	}

	script := r.input.CustomScript
	if script == "" {
		var err error
		script, err = callStage(ctx, r.cfg.StageTimeout, func(ctx context.Context) (string, error) {
			return r.collab.Script.Generate(ctx, r.input.Topic, r.input.Style, r.input.DurationSeconds)
		})
		if err == nil && strings.TrimSpace(script) == "" {
			err = domain.NewGenerationError("generated script is empty", nil)
		}
		if err != nil {
			return r.fail(domain.StageScript, err)
		}
	}

	r.script = strings.TrimSpace(script)
	return r.finish(domain.StageScript, func(j *domain.Job) {
		j.Artifacts.Script = r.script
	})
}

func (r *pipelineRun) searchImages(ctx context.Context) ([]domain.ImageRef, error) {
	count := domain.ImageCount(r.input.DurationSeconds, r.cfg.SecondsPerImage)
	images, err := callStage(ctx, r.cfg.StageTimeout, func(ctx context.Context) ([]domain.ImageRef, error) {
		return r.collab.Images.Search(ctx, r.input.Topic, count)
	})
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, domain.NewProviderError(fmt.Sprintf("no images found for %q", r.input.Topic), nil)
	}
	if len(images) > count {
		images = images[:count]
	}
	return images, nil
}

func (r *pipelineRun) synthesize(ctx context.Context) (domain.AudioRef, error) {
	audio, err := callStage(ctx, r.cfg.StageTimeout, func(ctx context.Context) (domain.AudioRef, error) {
		return r.collab.Speech.Synthesize(ctx, r.script)
	})
	if err != nil {
		return domain.AudioRef{}, err
	}
	if audio.DurationSeconds <= 0 {
		return domain.AudioRef{}, domain.NewSynthesisError("narration has no duration", nil)
	}
	return audio, nil
}

func (r *pipelineRun) runImages(ctx context.Context) error {
	if err := r.begin(domain.StageImages); err != nil {
		return err
	}
	images, err := r.searchImages(ctx)
	if err != nil {
		return r.fail(domain.StageImages, err)
	}
	return r.finishImages(images)
}

func (r *pipelineRun) finishImages(images []domain.ImageRef) error {
	r.images = images
	return r.finish(domain.StageImages, func(j *domain.Job) {
		j.Artifacts.Images = append([]domain.ImageRef{}, images...)
	})
}

func (r *pipelineRun) runAudio(ctx context.Context) error {
	if err := r.begin(domain.StageAudio); err != nil {
		return err
	}
	audio, err := r.synthesize(ctx)
	if err != nil {
		return r.fail(domain.StageAudio, err)
	}
	return r.finishAudio(audio)
}

func (r *pipelineRun) finishAudio(audio domain.AudioRef) error {
	r.audio = audio
	return r.finish(domain.StageAudio, func(j *domain.Job) {
		a := audio
		j.Artifacts.Audio = &a
	})
}

// runMediaParallel collects images and narration concurrently. Stage
// records still begin in pipeline order, and results commit in that order.
func (r *pipelineRun) runMediaParallel(ctx context.Context) error {
	if err := r.begin(domain.StageImages); err != nil {
		return err
	}
	if err := r.begin(domain.StageAudio); err != nil {
		return err
	}

	var images []domain.ImageRef
	var audio domain.AudioRef

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		images, err = r.searchImages(gctx)
		if err != nil {
			return tagStage(domain.StageImages, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		audio, err = r.synthesize(gctx)
		if err != nil {
			return tagStage(domain.StageAudio, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		var pe *domain.PipelineError
		if !errors.As(err, &pe) {
			pe = tagStage(domain.StageImages, err)
		}
		if pe.Stage == domain.StageAudio && images != nil {
			if err := r.finishImages(images); err != nil {
				return err
			}
		}
		return r.fail(pe.Stage, pe)
	}

	if err := r.finishImages(images); err != nil {
		return err
	}
	return r.finishAudio(audio)
}

func (r *pipelineRun) runVideo(ctx context.Context) error {
	if err := r.begin(domain.StageVideo); err != nil {
		return err
	}

	req := domain.EncodeRequest{
		JobID:    r.id,
		Script:   r.script,
		Images:   append([]domain.ImageRef{}, r.images...),
		Audio:    r.audio,
		Captions: r.input.IncludeCaptions,
		Style:    r.input.Style,
	}
	video, err := callStage(ctx, r.cfg.StageTimeout, func(ctx context.Context) (domain.VideoDescriptor, error) {
		return r.collab.Video.Assemble(ctx, req)
	})
	if err != nil {
		return r.fail(domain.StageVideo, err)
	}

	e := r.executor
	cancelled := false
	job, err := e.store.Update(r.id, func(j *domain.Job) error {
		if j.CancelRequested {
			cancelled = true
			return j.Cancel(e.now())
		}
		now := e.now()
		if err := j.CompleteStage(domain.StageVideo, now); err != nil {
			return err
		}
		return j.Complete(video, now)
	})
	if err != nil {
		return err
	}
	if cancelled {
		return r.cancelled(job)
	}

	stage := domain.StageVideo
	e.publish(EventTypeStageCompleted, job, &stage)
	e.publish(EventTypeJobCompleted, job, nil)
	e.logger.Info("job completed", "job_id", r.id, "video_id", video.ID, "location", video.Location)
	return nil
}

// begin marks stage active, or cancels the job if cancellation was requested.
func (r *pipelineRun) begin(stage domain.Stage) error {
	e := r.executor
	cancelled := false
	job, err := e.store.Update(r.id, func(j *domain.Job) error {
		if j.CancelRequested {
			cancelled = true
			return j.Cancel(e.now())
		}
		return j.BeginStage(stage, e.now())
	})
	if err != nil {
		return err
	}
	if cancelled {
		return r.cancelled(job)
	}

	e.logger.Debug("stage started", "job_id", r.id, "stage", stage)
	e.publish(EventTypeStageStarted, job, &stage)
	return nil
}

// finish commits a stage result. A cancellation requested while the stage
// was in flight discards the result.
func (r *pipelineRun) finish(stage domain.Stage, apply func(*domain.Job)) error {
	e := r.executor
	cancelled := false
	job, err := e.store.Update(r.id, func(j *domain.Job) error {
		if j.CancelRequested {
			cancelled = true
			return j.Cancel(e.now())
		}
		apply(j)
		return j.CompleteStage(stage, e.now())
	})
	if err != nil {
		return err
	}
	if cancelled {
		return r.cancelled(job)
	}

	e.logger.Debug("stage completed", "job_id", r.id, "stage", stage, "progress", job.ProgressPercent)
	e.publish(EventTypeStageCompleted, job, &stage)
	return nil
}

// fail ends the job as failed at stage. A pending cancellation takes
// precedence over the failure.
func (r *pipelineRun) fail(stage domain.Stage, cause error) error {
	e := r.executor
	pe := tagStage(stage, cause)

	cancelled := false
	job, err := e.store.Update(r.id, func(j *domain.Job) error {
		if j.CancelRequested {
			cancelled = true
			return j.Cancel(e.now())
		}
		return j.Fail(stage, pe.Error(), e.now())
	})
	if err != nil {
		return err
	}
	if cancelled {
		return r.cancelled(job)
	}

	e.logger.Warn("job failed", "job_id", r.id, "stage", stage, "error", pe.Error())
	e.publish(EventTypeJobFailed, job, &stage)
	return errRunStopped
}

func (r *pipelineRun) cancelled(job domain.Job) error {
	r.executor.logger.Info("job cancelled", "job_id", r.id)
	r.executor.publish(EventTypeJobCancelled, job, nil)
	return errRunStopped
}

// tagStage attributes err to stage, keeping any message it already carries.
func tagStage(stage domain.Stage, err error) *domain.PipelineError {
	pe := domain.AsPipelineError(stage, err)
	if pe.Stage != stage {
		return &domain.PipelineError{Stage: stage, Message: pe.Message, Err: pe.Err}
	}
	return pe
}

// callStage invokes a collaborator. A panicking collaborator becomes an
// error, and with a positive timeout the call is abandoned at the deadline
// whether or not the collaborator honours its context.
func callStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return safeCall(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := safeCall(ctx, fn)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("stage timed out after %s: %w", timeout, ctx.Err())
		}
		return zero, fmt.Errorf("stage interrupted: %w", ctx.Err())
	}
}

func safeCall[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("collaborator panicked: %v", rec)
		}
	}()
	return fn(ctx)
}
