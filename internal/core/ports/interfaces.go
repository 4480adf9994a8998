package ports

import (
	"context"
	"strings"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

// JobArchive keeps terminal job snapshots beyond the in-memory store (DuckDB).
type JobArchive interface {
	// SaveJob upserts a job snapshot.
	SaveJob(ctx context.Context, job domain.Job) error

	// GetJob retrieves an archived job by ID.
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)

	// ListJobs returns archived jobs, newest first.
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// ListVideos returns the videos of completed jobs, newest first.
	ListVideos(ctx context.Context, limit int) ([]Video, error)

	// GetVideo looks a video up by its ID. Unknown IDs match
	// domain.ErrVideoNotFound.
	GetVideo(ctx context.Context, id string) (Video, error)

	// DeleteVideo drops the job that produced the video.
	DeleteVideo(ctx context.Context, id string) error
}

// Video is a library entry for a finished job.
type Video struct {
	domain.VideoDescriptor
	JobID     domain.JobID `json:"job_id"`
	Topic     string       `json:"topic"`
	Style     domain.Style `json:"style"`
	Captions  bool         `json:"captions"`
	WordCount int          `json:"word_count"`
	Images    int          `json:"images"`
	CreatedAt time.Time    `json:"created_at"`
}

// Topic is a trending post that can seed a job.
type Topic struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	URL         string    `json:"url"`
	Permalink   string    `json:"permalink"`
	Created     time.Time `json:"created"`
}

// TopicSource discovers trending topics (Reddit).
type TopicSource interface {
	TrendingTopics(ctx context.Context, subreddit string, limit int) ([]Topic, error)
}

// SettingsRepository is the minimal persistence needed by the settings store.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// VideoFromJob builds the library entry of a completed job.
func VideoFromJob(job domain.Job) (Video, bool) {
	if job.Status != domain.JobStatusCompleted || job.Artifacts.Video == nil {
		return Video{}, false
	}
	created := job.CreatedAt
	if job.CompletedAt != nil {
		created = *job.CompletedAt
	}
	return Video{
		VideoDescriptor: *job.Artifacts.Video,
		JobID:           job.ID,
		Topic:           job.Input.Topic,
		Style:           job.Input.Style,
		Captions:        job.Input.IncludeCaptions,
		WordCount:       len(strings.Fields(job.Artifacts.Script)),
		Images:          len(job.Artifacts.Images),
		CreatedAt:       created,
	}, true
}
