package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

var ErrSchedulerNotStarted = errors.New("scheduler not started")

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	// MaxConcurrentJobs bounds how many jobs execute at once. Zero means every
	// submitted job starts right away.
	MaxConcurrentJobs int64
}

// JobHandler executes one job to a terminal state.
type JobHandler func(ctx context.Context, id domain.JobID)

// PanicHandler is told about a job whose handler panicked.
type PanicHandler func(id domain.JobID, recovered any)

// DropHandler is told about a job that never started because the scheduler
// stopped while it waited for a slot.
type DropHandler func(id domain.JobID, reason error)

// JobScheduler runs every job in its own supervised goroutine.
type JobScheduler struct {
	logger    *slog.Logger
	semaphore *semaphore.Weighted
	wg        sync.WaitGroup

	mu      sync.RWMutex
	ctx     context.Context
	handler   JobHandler
	onPanic   PanicHandler
	onDropped DropHandler
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	s := &JobScheduler{logger: logger}
	if cfg.MaxConcurrentJobs > 0 {
		s.semaphore = semaphore.NewWeighted(cfg.MaxConcurrentJobs)
	}
	return s
}

// Start binds the scheduler to ctx and the handler that executes jobs.
func (s *JobScheduler) Start(ctx context.Context, handler JobHandler, onPanic PanicHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("starting job scheduler")
	s.ctx = ctx
	s.handler = handler
	s.onPanic = onPanic
}

// OnDropped registers fn for jobs that lose their wait for a slot.
func (s *JobScheduler) OnDropped(fn DropHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDropped = fn
}

// SubmitJob launches the job's task.
func (s *JobScheduler) SubmitJob(id domain.JobID) error {
	s.mu.RLock()
	ctx, handler, onPanic, onDropped := s.ctx, s.handler, s.onPanic, s.onDropped
	s.mu.RUnlock()

	if handler == nil {
		return ErrSchedulerNotStarted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.semaphore != nil {
			if err := s.semaphore.Acquire(ctx, 1); err != nil {
				s.logger.Warn("job not started, scheduler stopping", "job_id", id, "error", err)
				if onDropped != nil {
					onDropped(id, err)
				}
				return
			}
			defer s.semaphore.Release(1)
		}

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job task panicked", "job_id", id, "panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(id, r)
				}
			}
		}()

		handler(ctx, id)
	}()

	s.logger.Info("job submitted", "job_id", id)
	return nil
}

// Wait blocks until every launched job task has returned.
func (s *JobScheduler) Wait() {
	s.wg.Wait()
}
