package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/reelforge/internal/core/domain"
)

// JobStore is the in-memory source of truth for job state.
// The index lock only guards the map; each job carries its own lock so that
// writes to one job never block reads or writes of another.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[domain.JobID]*jobEntry
	order []domain.JobID
	now   func() time.Time
}

type jobEntry struct {
	mu  sync.RWMutex
	job domain.Job
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[domain.JobID]*jobEntry),
		now:  time.Now,
	}
}

// Create validates input and inserts a queued job.
func (s *JobStore) Create(input domain.JobInput) (domain.Job, error) {
	if err := input.Validate(); err != nil {
		return domain.Job{}, err
	}

	job := domain.NewJob(domain.JobID(uuid.New().String()), input, s.now().UTC())
	entry := &jobEntry{job: job}

	s.mu.Lock()
	s.jobs[job.ID] = entry
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	return job.Clone(), nil
}

func (s *JobStore) entry(id domain.JobID) (*jobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	return e, nil
}

// Delete forgets a job. Unknown IDs are ignored.
func (s *JobStore) Delete(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	delete(s.jobs, id)
	for i, jid := range s.order {
		if jid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id domain.JobID) (domain.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// Update applies mutate to a private copy of the job and commits it only if
// mutate succeeds. Readers never observe a partially applied mutation.
func (s *JobStore) Update(id domain.JobID, mutate func(*domain.Job) error) (domain.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.job.Clone()
	if err := mutate(&working); err != nil {
		return e.job.Clone(), err
	}
	e.job = working
	return working.Clone(), nil
}

// RequestCancel cancels a queued job outright and flags a running one for
// cancellation at its next stage boundary. It returns false for terminal jobs.
func (s *JobStore) RequestCancel(id domain.JobID) (bool, domain.Job, error) {
	var accepted bool
	job, err := s.Update(id, func(j *domain.Job) error {
		switch j.Status {
		case domain.JobStatusQueued:
			accepted = true
			return j.Cancel(s.now().UTC())
		case domain.JobStatusRunning:
			accepted = true
			j.CancelRequested = true
		}
		return nil
	})
	if err != nil {
		return false, job, err
	}
	return accepted, job, nil
}

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	Status domain.JobStatus
	Limit  int
}

// List returns job snapshots, newest first.
func (s *JobStore) List(filter JobFilter) []domain.Job {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		entries = append(entries, s.jobs[s.order[i]])
	}
	s.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		job := e.job.Clone()
		e.mu.RUnlock()

		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
		if filter.Limit > 0 && len(jobs) == filter.Limit {
			break
		}
	}
	return jobs
}

// CountByStatus returns the number of jobs in each status.
func (s *JobStore) CountByStatus() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int)
	for _, job := range s.List(JobFilter{}) {
		counts[job.Status]++
	}
	return counts
}
