package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

func (a *app) topicsCmd() *cobra.Command {
	var (
		subreddit string
		limit     int
		submit    int
		duration  int
		style     string
	)

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Show trending Reddit topics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topics, err := a.client.Topics(cmd.Context(), subreddit, limit)
			if err != nil {
				return fmt.Errorf("error fetching topics: %w", err)
			}

			out := cmd.OutOrStdout()
			if submit == 0 {
				for i, t := range topics {
					fmt.Fprintf(out, "%2d. [%5d] r/%s  %s\n", i+1, t.Score, t.Subreddit, t.Title)
				}
				return nil
			}

			if submit < 1 || submit > len(topics) {
				return fmt.Errorf("--submit %d is out of range, %d topics found", submit, len(topics))
			}
			topic := topics[submit-1]
			job, err := a.client.SubmitJob(cmd.Context(), domain.JobRequest{
				Topic:           topic.Title,
				DurationSeconds: duration,
				Style:           domain.Style(style),
			})
			if err != nil {
				return fmt.Errorf("error submitting job: %w", err)
			}
			fmt.Fprintf(out, "submitted job %s for %q\n", job.ID, topic.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subreddit, "subreddit", "r", "", "Subreddit to read (kernel default when unset)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Number of topics")
	cmd.Flags().IntVar(&submit, "submit", 0, "Submit the topic at this position as a job")
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "Video length for --submit")
	cmd.Flags().StringVar(&style, "style", "", "Script style for --submit")
	return cmd
}

func (a *app) videosCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List finished videos, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			videos, err := a.client.Videos(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("error fetching videos: %w", err)
			}
			return printJSON(cmd, map[string]any{"videos": videos})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Limit the number of videos returned")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <video-id>",
			Short: "Show one video of the library",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				video, err := a.client.GetVideo(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("error fetching video: %w", err)
				}
				return printJSON(cmd, video)
			},
		},
		&cobra.Command{
			Use:     "rm <video-id>",
			Aliases: []string{"delete"},
			Short:   "Delete a video file and the job that produced it",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client.DeleteVideo(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("error deleting video: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted video %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func (a *app) downloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the video of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = args[0] + ".mp4"
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("error creating %s: %w", dir, err)
				}
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("error creating %s: %w", output, err)
			}
			n, err := a.client.DownloadVideo(cmd.Context(), args[0], f)
			closeErr := f.Close()
			if err != nil {
				_ = os.Remove(output)
				return fmt.Errorf("error downloading video: %w", err)
			}
			if closeErr != nil {
				return closeErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", output, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default <job-id>.mp4)")
	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show kernel health and dependency checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("error fetching health: %w", err)
			}
			return printJSON(cmd, h)
		},
	}
}
