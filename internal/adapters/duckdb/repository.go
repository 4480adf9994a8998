package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
)

// Repository is the DuckDB-backed job archive, video library and settings
// table.
type Repository struct {
	db *sql.DB
}

var (
	_ ports.JobArchive         = (*Repository)(nil)
	_ ports.SettingsRepository = (*Repository)(nil)
)

// ErrSettingNotFound is returned by GetSetting for unknown keys.
var ErrSettingNotFound = errors.New("setting not found")

// NewRepository opens (or creates) the database at path. An empty path opens
// an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	// DuckDB allows a single writer per process.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR PRIMARY KEY,
			status VARCHAR NOT NULL,
			topic VARCHAR NOT NULL,
			style VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			payload VARCHAR NOT NULL
		)`,
		`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS video_id VARCHAR`,
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	query := `
	INSERT INTO jobs (id, status, topic, style, created_at, completed_at, payload, video_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		completed_at = excluded.completed_at,
		payload = excluded.payload,
		video_id = excluded.video_id;
	`
	var videoID any
	if job.Artifacts.Video != nil && job.Artifacts.Video.ID != "" {
		videoID = job.Artifacts.Video.ID
	}
	_, err = r.db.ExecContext(ctx, query,
		string(job.ID), string(job.Status), job.Input.Topic, string(job.Input.Style),
		job.CreatedAt.UTC(), utcOrNil(job.CompletedAt), string(payload), videoID,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM jobs WHERE id = ?`, string(id)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, &domain.NotFoundError{ID: id}
		}
		return domain.Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return decodeJob(payload)
}

func (r *Repository) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM jobs ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *Repository) ListVideos(ctx context.Context, limit int) ([]ports.Video, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM jobs WHERE status = ? ORDER BY completed_at DESC LIMIT ?`,
		string(domain.JobStatusCompleted), clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	videos := []ports.Video{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		if v, ok := ports.VideoFromJob(job); ok {
			videos = append(videos, v)
		}
	}
	return videos, rows.Err()
}

func (r *Repository) GetVideo(ctx context.Context, id string) (ports.Video, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM jobs WHERE video_id = ? AND status = ?`,
		id, string(domain.JobStatusCompleted),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ports.Video{}, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
		}
		return ports.Video{}, fmt.Errorf("failed to load video %s: %w", id, err)
	}
	job, err := decodeJob(payload)
	if err != nil {
		return ports.Video{}, err
	}
	video, ok := ports.VideoFromJob(job)
	if !ok {
		return ports.Video{}, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
	}
	return video, nil
}

// DeleteVideo removes the archived job behind the video. The file itself is
// the caller's to remove.
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE video_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete video %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
	}
	return nil
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
		}
		return "", err
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at;
	`
	_, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}

func decodeJob(payload string) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to decode archived job: %w", err)
	}
	return job, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
