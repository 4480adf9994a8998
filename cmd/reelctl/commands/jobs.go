package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

// jobOutput is the trimmed view of a job printed by status and list.
type jobOutput struct {
	ID        string           `json:"id"`
	Topic     string           `json:"topic"`
	Status    domain.JobStatus `json:"status"`
	Stage     string           `json:"stage,omitempty"`
	Progress  int              `json:"progress"`
	Error     string           `json:"error,omitempty"`
	Video     string           `json:"video,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func toJobOutput(job domain.Job) jobOutput {
	out := jobOutput{
		ID:        string(job.ID),
		Topic:     job.Input.Topic,
		Status:    job.Status,
		Progress:  job.ProgressPercent,
		CreatedAt: job.CreatedAt,
	}
	if job.CurrentStage != nil {
		out.Stage = string(*job.CurrentStage)
	}
	if job.Error != nil {
		out.Error = fmt.Sprintf("%s: %s", job.Error.Stage, job.Error.Message)
	}
	if job.Artifacts.Video != nil {
		out.Video = job.Artifacts.Video.Location
	}
	return out
}

func (a *app) submitCmd() *cobra.Command {
	var (
		duration   int
		style      string
		noCaptions bool
		scriptFile string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "submit <topic>",
		Short: "Submit a topic for video generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.JobRequest{
				Topic:           strings.Join(args, " "),
				DurationSeconds: duration,
				Style:           domain.Style(style),
			}
			if cmd.Flags().Changed("no-captions") {
				captions := !noCaptions
				req.IncludeCaptions = &captions
			}
			if scriptFile != "" {
				script, err := os.ReadFile(scriptFile)
				if err != nil {
					return fmt.Errorf("error reading script: %w", err)
				}
				req.CustomScript = string(script)
			}

			job, err := a.client.SubmitJob(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("error submitting job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s (%s, %ds, %s)\n", job.ID, job.Input.Topic, job.Input.DurationSeconds, job.Input.Style)

			if watch {
				return a.watchPlain(cmd, string(job.ID), defaultPollInterval)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "Target video length in seconds (kernel default when unset)")
	cmd.Flags().StringVar(&style, "style", "", "Script style: news, social, educational, entertainment, documentary")
	cmd.Flags().BoolVar(&noCaptions, "no-captions", false, "Do not burn captions into the video")
	cmd.Flags().StringVar(&scriptFile, "script-file", "", "Narrate this file instead of generating a script")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			return printJSON(cmd, toJobOutput(job))
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.client.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return fmt.Errorf("error fetching jobs: %w", err)
			}

			output := struct {
				Jobs []jobOutput `json:"jobs"`
			}{Jobs: make([]jobOutput, len(jobs))}
			for i, job := range jobs {
				output.Jobs[i] = toJobOutput(job)
			}
			return printJSON(cmd, output)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter jobs by status")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Limit the number of jobs returned")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job; running jobs stop after their current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accepted, err := a.client.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error cancelling job: %w", err)
			}
			if !accepted {
				fmt.Fprintf(cmd.OutOrStdout(), "job %s has already finished\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for job %s\n", args[0])
			return nil
		},
	}
}
