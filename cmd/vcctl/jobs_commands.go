package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/status"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				db := s.DB()
				if db == nil {
					return errors.New("no database configured")
				}
				applied, err := db.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage processing jobs",
	}

	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsReapCommand(ctx))

	return jobsCmd
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				stats, err := s.Queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				rows := [][]string{
					{"Pending", strconv.Itoa(stats.Pending)},
					{"Processing", strconv.Itoa(stats.Processing)},
					{"Completed", strconv.Itoa(stats.Completed)},
					{"Failed", strconv.Itoa(stats.Failed)},
					{"Cancelled", strconv.Itoa(stats.Cancelled)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <asset-id>",
		Short: "List the jobs of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				jobs, err := s.Queue.ListByAsset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				status.SortJobs(jobs)
				if ctx.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobs(jobs))
				return nil
			})
		},
	}
}

func renderJobs(jobs []*models.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Type),
			string(job.Status),
			fmt.Sprintf("%.0f%%", job.Progress),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			truncate(job.ErrorMessage, 48),
		})
	}
	return renderTable(
		[]string{"ID", "Type", "Status", "Progress", "Retries", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-enqueue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				job, err := s.Queue.RetryManually(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				job, err := s.Queue.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobsReapCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail jobs that have been processing longer than the timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				if timeout <= 0 {
					timeout = s.Config.Pipeline.JobTimeout
				}
				reaped, err := s.Queue.ReapStuck(cmd.Context(), timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reaped %d jobs\n", reaped)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Processing time after which a job is stuck (default pipeline.jobTimeout)")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <asset-id>",
		Short: "Show the processing status of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				snapshot, err := s.Status.GetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), snapshot)
				}

				out := cmd.OutOrStdout()
				asset := snapshot.VideoAsset
				fmt.Fprintf(out, "Asset:     %s (%s)\n", asset.ID, asset.OriginalFilename)
				fmt.Fprintf(out, "Content:   %s\n", asset.ContentID)
				fmt.Fprintf(out, "Upload:    %s\n", asset.UploadStatus)
				fmt.Fprintf(out, "Aggregate: %s\n", snapshot.AggregateStatus)
				fmt.Fprintf(out, "Artifacts: %d\n", len(asset.Artifacts))
				if len(snapshot.Jobs) > 0 {
					fmt.Fprint(out, renderJobs(snapshot.Jobs))
				}
				return nil
			})
		},
	}
}
