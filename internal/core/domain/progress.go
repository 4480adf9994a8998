package domain

// ProgressUpdate is the payload of every progress event.
type ProgressUpdate struct {
	JobID    JobID     `json:"job_id"`
	Status   JobStatus `json:"status"`
	Stage    *Stage    `json:"stage,omitempty"`
	Progress int       `json:"progress"`
	Error    *JobError `json:"error,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ProgressFor describes job as seen at stage. A nil stage falls back to the
// job's current stage.
func ProgressFor(job Job, stage *Stage) ProgressUpdate {
	if stage == nil && job.CurrentStage != nil {
		s := *job.CurrentStage
		stage = &s
	}
	update := ProgressUpdate{
		JobID:    job.ID,
		Status:   job.Status,
		Stage:    stage,
		Progress: job.ProgressPercent,
	}
	if job.Error != nil {
		e := *job.Error
		update.Error = &e
	}
	return update
}
