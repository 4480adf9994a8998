package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

type EventType string

const (
	EventTypeJobQueued      EventType = "job.queued"
	EventTypeStageStarted   EventType = "stage.started"
	EventTypeStageCompleted EventType = "stage.completed"
	EventTypeJobCompleted   EventType = "job.completed"
	EventTypeJobFailed      EventType = "job.failed"
	EventTypeJobCancelled   EventType = "job.cancelled"
)

// IsTerminal reports whether the event closes a job's stream.
func (t EventType) IsTerminal() bool {
	return t == EventTypeJobCompleted || t == EventTypeJobFailed || t == EventTypeJobCancelled
}

type Event struct {
	JobID     string    `json:"job_id"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"` // JSON encoded domain.ProgressUpdate
	Timestamp int64     `json:"timestamp"`
}

// Progress decodes the event payload.
func (e Event) Progress() (domain.ProgressUpdate, error) {
	var update domain.ProgressUpdate
	err := json.Unmarshal([]byte(e.Data), &update)
	return update, err
}

const (
	subscriberBuffer    = 100
	defaultHistoryLimit = 256
)

// EventBus fans progress events out to subscribers and keeps a bounded
// per-job history for observers that poll instead of listening.
type EventBus struct {
	logger       *slog.Logger
	mu           sync.Mutex
	subs         map[string][]chan Event // Key: JobID
	global       []chan Event
	seq          map[string]uint64
	history      map[string][]Event
	historyLimit int
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger:       logger,
		subs:         make(map[string][]chan Event),
		seq:          make(map[string]uint64),
		history:      make(map[string][]Event),
		historyLimit: defaultHistoryLimit,
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// SubscribeGlobal returns a channel that receives events for every job
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.global = append(b.global, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			for i, sub := range b.global {
				if sub == ch {
					close(ch)
					b.global = append(b.global[:i], b.global[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

var stageStartedMessages = map[domain.Stage]string{
	domain.StageScript: "Generating AI script...",
	domain.StageImages: "Collecting images...",
	domain.StageAudio:  "Generating voiceover...",
	domain.StageVideo:  "Assembling final video...",
}

var stageCompletedMessages = map[domain.Stage]string{
	domain.StageScript: "Script ready",
	domain.StageImages: "Images collected",
	domain.StageAudio:  "Voiceover ready",
	domain.StageVideo:  "Video assembled",
}

// ProgressMessage is the human-readable line shown next to an update.
func ProgressMessage(t EventType, update domain.ProgressUpdate) string {
	switch t {
	case EventTypeJobQueued:
		return "Waiting for a free slot..."
	case EventTypeStageStarted, EventTypeStageCompleted:
		if update.Stage == nil {
			return ""
		}
		if t == EventTypeStageStarted {
			return stageStartedMessages[*update.Stage]
		}
		return stageCompletedMessages[*update.Stage]
	case EventTypeJobCompleted:
		return "Video ready"
	case EventTypeJobFailed:
		if update.Error != nil {
			return "Failed: " + update.Error.Message
		}
		return "Failed"
	case EventTypeJobCancelled:
		return "Cancelled"
	}
	return ""
}

// PublishProgress encodes update and publishes it as an event of type t.
// An empty Message is filled in from the event type and stage.
func (b *EventBus) PublishProgress(t EventType, update domain.ProgressUpdate) Event {
	if update.Message == "" {
		update.Message = ProgressMessage(t, update)
	}
	payload, err := json.Marshal(update)
	if err != nil {
		b.logger.Error("failed to encode progress event", "job_id", update.JobID, "error", err)
		payload = []byte(`{}`)
	}
	return b.Publish(Event{
		JobID: string(update.JobID),
		Type:  t,
		Data:  string(payload),
	})
}

// Publish assigns the next per-job sequence number, records the event and
// sends it to all subscribers of the job without blocking.
func (b *EventBus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[e.JobID]++
	e.Seq = b.seq[e.JobID]
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	hist := append(b.history[e.JobID], e)
	if len(hist) > b.historyLimit {
		hist = hist[len(hist)-b.historyLimit:]
	}
	b.history[e.JobID] = hist

	for _, ch := range b.subs[e.JobID] {
		b.deliver(ch, e)
	}
	for _, ch := range b.global {
		b.deliver(ch, e)
	}
	return e
}

func (b *EventBus) deliver(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		// If channel is full, drop event to prevent blocking the pipeline
		b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "seq", e.Seq)
	}
}

// Since returns the retained events of a job with a sequence number above seq.
func (b *EventBus) Since(jobID string, seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, e := range b.history[jobID] {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
