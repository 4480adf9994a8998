package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Stage string

const (
	StageScript Stage = "script"
	StageImages Stage = "images"
	StageAudio  Stage = "audio"
	StageVideo  Stage = "video"
	StageDone   Stage = "done"
	StageError  Stage = "error"
)

// PipelineStages lists the executable stages in run order.
var PipelineStages = []Stage{StageScript, StageImages, StageAudio, StageVideo}

type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusCancelled StageStatus = "cancelled"
)

// StageRecord tracks the timing of one pipeline stage.
type StageRecord struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	ElapsedMS  int64       `json:"elapsed_ms"`
}

type ImageRef struct {
	Location string `json:"location"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Source   string `json:"source,omitempty"`
}

type AudioRef struct {
	Location        string  `json:"location"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type VideoDescriptor struct {
	ID              string  `json:"id"`
	Location        string  `json:"location"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
	Resolution      string  `json:"resolution"`
}

// Artifacts accumulates stage outputs. Fields are only ever added.
type Artifacts struct {
	Script string           `json:"script,omitempty"`
	Images []ImageRef       `json:"images"`
	Audio  *AudioRef        `json:"audio,omitempty"`
	Video  *VideoDescriptor `json:"video,omitempty"`
}

type JobError struct {
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
}

// Job is one end-to-end request to turn a topic into a video.
type Job struct {
	ID              JobID         `json:"id"`
	Input           JobInput      `json:"input"`
	Status          JobStatus     `json:"status"`
	CurrentStage    *Stage        `json:"current_stage"`
	StageRecords    []StageRecord `json:"stage_records"`
	ProgressPercent int           `json:"progress_percent"`
	Artifacts       Artifacts     `json:"artifacts"`
	Error           *JobError     `json:"error,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// NewJob builds a queued job for an already validated input.
func NewJob(id JobID, input JobInput, now time.Time) Job {
	return Job{
		ID:           id,
		Input:        input,
		Status:       JobStatusQueued,
		StageRecords: []StageRecord{},
		Artifacts:    Artifacts{Images: []ImageRef{}},
		CreatedAt:    now,
	}
}

// Clone returns a deep copy that shares no mutable state with j.
func (j Job) Clone() Job {
	cp := j
	if j.CurrentStage != nil {
		stage := *j.CurrentStage
		cp.CurrentStage = &stage
	}
	cp.StageRecords = make([]StageRecord, len(j.StageRecords))
	for i, rec := range j.StageRecords {
		if rec.FinishedAt != nil {
			finished := *rec.FinishedAt
			rec.FinishedAt = &finished
		}
		cp.StageRecords[i] = rec
	}
	cp.Artifacts.Images = append([]ImageRef{}, j.Artifacts.Images...)
	if j.Artifacts.Audio != nil {
		audio := *j.Artifacts.Audio
		cp.Artifacts.Audio = &audio
	}
	if j.Artifacts.Video != nil {
		video := *j.Artifacts.Video
		cp.Artifacts.Video = &video
	}
	if j.Error != nil {
		jobErr := *j.Error
		cp.Error = &jobErr
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Record returns the stage record for stage, if the stage has started.
func (j *Job) Record(stage Stage) (*StageRecord, bool) {
	for i := range j.StageRecords {
		if j.StageRecords[i].Stage == stage {
			return &j.StageRecords[i], true
		}
	}
	return nil, false
}

// StageStatus reports the status of a stage, pending when it has no record.
func (j *Job) StageStatus(stage Stage) StageStatus {
	if rec, ok := j.Record(stage); ok {
		return rec.Status
	}
	return StageStatusPending
}

func (j *Job) completedStages() int {
	n := 0
	for _, rec := range j.StageRecords {
		if rec.Status == StageStatusCompleted {
			n++
		}
	}
	return n
}

func (j *Job) transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// Start moves a queued job to running.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// BeginStage appends an active record for stage and makes it current.
func (j *Job) BeginStage(stage Stage, now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: cannot begin %s while %s", ErrInvalidTransition, stage, j.Status)
	}
	if _, ok := j.Record(stage); ok {
		return fmt.Errorf("%w: stage %s already started", ErrInvalidTransition, stage)
	}
	j.StageRecords = append(j.StageRecords, StageRecord{
		Stage:     stage,
		Status:    StageStatusActive,
		StartedAt: now,
	})
	current := stage
	j.CurrentStage = &current
	return nil
}

// CompleteStage finishes an active stage and recomputes progress.
func (j *Job) CompleteStage(stage Stage, now time.Time) error {
	rec, ok := j.Record(stage)
	if !ok || rec.Status != StageStatusActive {
		return fmt.Errorf("%w: stage %s is not active", ErrInvalidTransition, stage)
	}
	finishRecord(rec, StageStatusCompleted, now)

	progress := j.completedStages() * 100 / len(PipelineStages)
	if progress > j.ProgressPercent {
		j.ProgressPercent = progress
	}
	return nil
}

// Complete makes the job terminal with its final video.
func (j *Job) Complete(video VideoDescriptor, now time.Time) error {
	if j.completedStages() != len(PipelineStages) {
		return fmt.Errorf("%w: %d of %d stages completed", ErrInvalidTransition, j.completedStages(), len(PipelineStages))
	}
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Artifacts.Video = &video
	j.ProgressPercent = 100
	done := StageDone
	j.CurrentStage = &done
	j.CompletedAt = &now
	return nil
}

// Fail makes the job terminal, blaming stage. Other active stages are
// recorded as cancelled.
func (j *Job) Fail(stage Stage, message string, now time.Time) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	for i := range j.StageRecords {
		rec := &j.StageRecords[i]
		if rec.Status != StageStatusActive {
			continue
		}
		if rec.Stage == stage {
			finishRecord(rec, StageStatusFailed, now)
		} else {
			finishRecord(rec, StageStatusCancelled, now)
		}
	}
	j.Error = &JobError{Message: message, Stage: stage}
	failed := StageError
	j.CurrentStage = &failed
	j.CompletedAt = &now
	return nil
}

// Cancel makes the job terminal as cancelled.
func (j *Job) Cancel(now time.Time) error {
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	for i := range j.StageRecords {
		if j.StageRecords[i].Status == StageStatusActive {
			finishRecord(&j.StageRecords[i], StageStatusCancelled, now)
		}
	}
	j.CancelRequested = true
	j.CompletedAt = &now
	return nil
}

func finishRecord(rec *StageRecord, status StageStatus, now time.Time) {
	rec.Status = status
	rec.FinishedAt = &now
	rec.ElapsedMS = now.Sub(rec.StartedAt).Milliseconds()
}

// Style selects the tone of the generated script.
type Style string

const (
	StyleNews          Style = "news"
	StyleSocial        Style = "social"
	StyleEducational   Style = "educational"
	StyleEntertainment Style = "entertainment"
	StyleDocumentary   Style = "documentary"
)

var Styles = []Style{StyleNews, StyleSocial, StyleEducational, StyleEntertainment, StyleDocumentary}

func (s Style) Valid() bool {
	for _, known := range Styles {
		if s == known {
			return true
		}
	}
	return false
}

// JobRequest is a generation request as submitted, before defaults apply.
type JobRequest struct {
	Topic           string `json:"topic"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Style           Style  `json:"style,omitempty"`
	IncludeCaptions *bool  `json:"include_captions,omitempty"`
	CustomScript    string `json:"custom_script,omitempty"`
}

// JobInput is a normalized request.
type JobInput struct {
	Topic           string `json:"topic"`
	DurationSeconds int    `json:"duration_seconds"`
	Style           Style  `json:"style"`
	IncludeCaptions bool   `json:"include_captions"`
	CustomScript    string `json:"custom_script,omitempty"`
}

// Normalize applies defaults and validates the request.
func (r JobRequest) Normalize(defaultDuration int) (JobInput, error) {
	input := JobInput{
		Topic:           strings.TrimSpace(r.Topic),
		DurationSeconds: r.DurationSeconds,
		Style:           Style(strings.ToLower(strings.TrimSpace(string(r.Style)))),
		IncludeCaptions: true,
		CustomScript:    strings.TrimSpace(r.CustomScript),
	}
	if input.DurationSeconds == 0 {
		input.DurationSeconds = defaultDuration
	}
	if input.Style == "" {
		input.Style = StyleNews
	}
	if r.IncludeCaptions != nil {
		input.IncludeCaptions = *r.IncludeCaptions
	}
	return input, input.Validate()
}

func (in JobInput) Validate() error {
	if strings.TrimSpace(in.Topic) == "" {
		return &ValidationError{Field: "topic", Message: "topic is required"}
	}
	if in.DurationSeconds <= 0 {
		return &ValidationError{Field: "duration_seconds", Message: "duration must be a positive number of seconds"}
	}
	if !in.Style.Valid() {
		return &ValidationError{Field: "style", Message: fmt.Sprintf("unknown style %q", in.Style)}
	}
	return nil
}
