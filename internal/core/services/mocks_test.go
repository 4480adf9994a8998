package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type MockScript struct {
	mock.Mock
}

func (m *MockScript) Generate(ctx context.Context, topic string, style domain.Style, durationSeconds int) (string, error) {
	args := m.Called(ctx, topic, style, durationSeconds)
	return args.String(0), args.Error(1)
}

type MockImages struct {
	mock.Mock
}

func (m *MockImages) Search(ctx context.Context, topic string, count int) ([]domain.ImageRef, error) {
	args := m.Called(ctx, topic, count)
	images, _ := args.Get(0).([]domain.ImageRef)
	return images, args.Error(1)
}

type MockSpeech struct {
	mock.Mock
}

func (m *MockSpeech) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(domain.AudioRef), args.Error(1)
}

type MockEncoder struct {
	mock.Mock
}

func (m *MockEncoder) Assemble(ctx context.Context, req domain.EncodeRequest) (domain.VideoDescriptor, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.VideoDescriptor), args.Error(1)
}

type mockCollaborators struct {
	script  *MockScript
	images  *MockImages
	speech  *MockSpeech
	encoder *MockEncoder
}

func newMockCollaborators() *mockCollaborators {
	return &mockCollaborators{
		script:  new(MockScript),
		images:  new(MockImages),
		speech:  new(MockSpeech),
		encoder: new(MockEncoder),
	}
}

func (m *mockCollaborators) collaborators() domain.Collaborators {
	return domain.Collaborators{
		Script: m.script,
		Images: m.images,
		Speech: m.speech,
		Video:  m.encoder,
	}
}

var testVideo = domain.VideoDescriptor{
	ID:              "video-1",
	Location:        "/tmp/output/video-1.mp4",
	DurationSeconds: 12.5,
	FileSizeBytes:   1024,
	Resolution:      "1080x1920",
}

func testImages(n int) []domain.ImageRef {
	images := make([]domain.ImageRef, n)
	for i := range images {
		images[i] = domain.ImageRef{Location: "/tmp/img.jpg", Width: 1080, Height: 1920, Source: "test"}
	}
	return images
}

// happyPath programs every collaborator to succeed.
func (m *mockCollaborators) happyPath() {
	m.script.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("A short narration about the topic.", nil)
	m.images.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(testImages(2), nil)
	m.speech.On("Synthesize", mock.Anything, mock.Anything).Return(domain.AudioRef{Location: "/tmp/narration.mp3", DurationSeconds: 12.5}, nil)
	m.encoder.On("Assemble", mock.Anything, mock.Anything).Return(testVideo, nil)
}

// memoryArchive is an in-memory ports.JobArchive.
type memoryArchive struct {
	mu   sync.Mutex
	jobs map[domain.JobID]domain.Job
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{jobs: make(map[domain.JobID]domain.Job)}
}

func (a *memoryArchive) SaveJob(_ context.Context, job domain.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = job.Clone()
	return nil
}

func (a *memoryArchive) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return domain.Job{}, &domain.NotFoundError{ID: id}
	}
	return job.Clone(), nil
}

func (a *memoryArchive) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	jobs := []domain.Job{}
	for _, job := range a.jobs {
		jobs = append(jobs, job.Clone())
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

func (a *memoryArchive) GetVideo(_ context.Context, id string) (ports.Video, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, job := range a.jobs {
		if v, ok := ports.VideoFromJob(job); ok && v.ID == id {
			return v, nil
		}
	}
	return ports.Video{}, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
}

func (a *memoryArchive) DeleteVideo(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for jobID, job := range a.jobs {
		if job.Artifacts.Video != nil && job.Artifacts.Video.ID == id {
			delete(a.jobs, jobID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
}

func (a *memoryArchive) ListVideos(ctx context.Context, limit int) ([]ports.Video, error) {
	jobs, err := a.ListJobs(ctx, 0)
	if err != nil {
		return nil, err
	}
	videos := []ports.Video{}
	for _, job := range jobs {
		if v, ok := ports.VideoFromJob(job); ok {
			videos = append(videos, v)
		}
	}
	return videos, nil
}
