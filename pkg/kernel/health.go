package kernel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

const healthCheckTimeout = 5 * time.Second

type healthReport struct {
	Status     string                   `json:"status"`
	ActiveJobs int                      `json:"active_jobs"`
	Jobs       map[domain.JobStatus]int `json:"jobs"`
	Checks     map[string]string        `json:"checks"`
}

// handleHealth reports job counts and the state of external dependencies.
// A failing dependency degrades the status but never fails the request.
// GET /v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.jobs.Stats()
	report := healthReport{
		Status:     "ok",
		ActiveJobs: stats[domain.JobStatusQueued] + stats[domain.JobStatusRunning],
		Jobs:       stats,
		Checks:     s.runChecks(r.Context()),
	}
	for _, result := range report.Checks {
		if result != "ok" {
			report.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(s.checks))
	)
	for name, check := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
