package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/services"
	"github.com/manthysbr/reelforge/pkg/client"
)

const defaultPollInterval = time.Second

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (a *app) watchCmd() *cobra.Command {
	var (
		plain    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if plain {
				return a.watchPlain(cmd, args[0], interval)
			}
			return a.watchTUI(cmd, args[0], interval)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per event instead of the live view")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "Polling interval")
	return cmd
}

// jobTracker folds progress events into the state both watch modes render.
type jobTracker struct {
	since    uint64
	status   domain.JobStatus
	stage    domain.Stage
	progress int
	stages   map[domain.Stage]domain.StageStatus
	errMsg   string
	message  string
	done     bool
}

func newJobTracker() jobTracker {
	return jobTracker{
		status: domain.JobStatusQueued,
		stages: make(map[domain.Stage]domain.StageStatus, len(domain.PipelineStages)),
	}
}

func (t *jobTracker) apply(evt services.Event) error {
	if evt.Seq > t.since {
		t.since = evt.Seq
	}
	update, err := evt.Progress()
	if err != nil {
		return fmt.Errorf("malformed event %d: %w", evt.Seq, err)
	}

	t.status = update.Status
	if update.Progress > t.progress {
		t.progress = update.Progress
	}
	if update.Stage != nil {
		t.stage = *update.Stage
	}
	if update.Message != "" {
		t.message = update.Message
	}

	switch evt.Type {
	case services.EventTypeStageStarted:
		t.stages[t.stage] = domain.StageStatusActive
	case services.EventTypeStageCompleted:
		t.stages[t.stage] = domain.StageStatusCompleted
	case services.EventTypeJobFailed:
		if update.Error != nil {
			t.stages[update.Error.Stage] = domain.StageStatusFailed
			t.errMsg = fmt.Sprintf("%s: %s", update.Error.Stage, update.Error.Message)
		}
	case services.EventTypeJobCancelled:
		if t.stages[t.stage] == domain.StageStatusActive {
			t.stages[t.stage] = domain.StageStatusCancelled
		}
	}
	if evt.Type.IsTerminal() {
		t.done = true
	}
	return nil
}

// result turns a finished job into the command's exit status.
func (t *jobTracker) result(jobID string) error {
	switch t.status {
	case domain.JobStatusFailed:
		return fmt.Errorf("job %s failed: %s", jobID, t.errMsg)
	case domain.JobStatusCancelled:
		return fmt.Errorf("job %s was cancelled", jobID)
	}
	return nil
}

// watchPlain polls events and prints them as they arrive.
func (a *app) watchPlain(cmd *cobra.Command, jobID string, interval time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	tracker := newJobTracker()
	lastMessage := ""

	for {
		events, err := a.client.JobEvents(ctx, jobID, tracker.since)
		if err != nil {
			return fmt.Errorf("error fetching events: %w", err)
		}
		for _, evt := range events {
			if err := tracker.apply(evt); err != nil {
				return err
			}
			line := fmt.Sprintf("[%3d%%] %-16s", tracker.progress, evt.Type)
			if tracker.stage != "" {
				line += " " + string(tracker.stage)
			}
			if tracker.message != lastMessage {
				line += "  " + tracker.message
				lastMessage = tracker.message
			}
			fmt.Fprintln(out, strings.TrimRight(line, " "))
		}
		if tracker.done {
			if tracker.status == domain.JobStatusCompleted {
				if job, err := a.client.GetJob(ctx, jobID); err == nil && job.Artifacts.Video != nil {
					fmt.Fprintf(out, "video: %s\n", job.Artifacts.Video.Location)
				}
			}
			return tracker.result(jobID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (a *app) watchTUI(cmd *cobra.Command, jobID string, interval time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m := newWatchModel(ctx, a.client, jobID, interval)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout()))
	final, err := p.Run()
	if err != nil {
		return err
	}
	fm, ok := final.(watchModel)
	if !ok {
		return nil
	}
	if fm.err != nil {
		return fm.err
	}
	if !fm.tracker.done {
		return nil
	}
	return fm.tracker.result(jobID)
}

type eventsMsg struct {
	events []services.Event
}

type pollErrMsg struct {
	err error
}

type tickMsg time.Time

type watchModel struct {
	ctx      context.Context
	client   client.Client
	jobID    string
	interval time.Duration

	tracker jobTracker
	bar     progress.Model
	err     error
}

func newWatchModel(ctx context.Context, c client.Client, jobID string, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return watchModel{
		ctx:      ctx,
		client:   c,
		jobID:    jobID,
		interval: interval,
		tracker:  newJobTracker(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m watchModel) poll() tea.Cmd {
	since := m.tracker.since
	return func() tea.Msg {
		events, err := m.client.JobEvents(m.ctx, m.jobID, since)
		if err != nil {
			return pollErrMsg{err: err}
		}
		return eventsMsg{events: events}
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case eventsMsg:
		for _, evt := range msg.events {
			// Events already applied are skipped so replays do not move state back.
			if evt.Seq <= m.tracker.since {
				continue
			}
			if err := m.tracker.apply(evt); err != nil {
				m.err = err
				return m, tea.Quit
			}
		}
		if m.tracker.done {
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		return m, m.poll()
	case pollErrMsg:
		m.err = fmt.Errorf("error fetching events: %w", msg.err)
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("job "+m.jobID) + " " + watchMutedStyle.Render(string(m.tracker.status)) + "\n\n")
	b.WriteString(m.bar.ViewAs(float64(m.tracker.progress)/100) + "\n\n")

	for _, stage := range domain.PipelineStages {
		mark := watchMutedStyle.Render("·")
		switch m.tracker.stages[stage] {
		case domain.StageStatusActive:
			mark = watchTitleStyle.Render("▸")
		case domain.StageStatusCompleted:
			mark = watchOKStyle.Render("✓")
		case domain.StageStatusFailed:
			mark = watchErrorStyle.Render("✗")
		case domain.StageStatusCancelled:
			mark = watchMutedStyle.Render("-")
		}
		b.WriteString(fmt.Sprintf(" %s %s\n", mark, stage))
	}

	var footer string
	switch {
	case m.err != nil:
		footer = watchErrorStyle.Render(m.err.Error())
	case m.tracker.errMsg != "":
		footer = watchErrorStyle.Render(m.tracker.errMsg)
	case m.tracker.done:
		footer = watchOKStyle.Render(string(m.tracker.status))
	case m.tracker.message != "":
		footer = m.tracker.message + " " + watchMutedStyle.Render("(q to stop watching)")
	default:
		footer = watchMutedStyle.Render("q to stop watching")
	}
	return watchPanelStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n" + footer + "\n"
}
