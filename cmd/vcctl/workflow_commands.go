package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/workflow"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and move editorial workflows",
	}

	workflowCmd.AddCommand(newWorkflowSetStatusCommand(ctx))
	workflowCmd.AddCommand(newWorkflowHistoryCommand(ctx))

	return workflowCmd
}

func newWorkflowSetStatusCommand(ctx *commandContext) *cobra.Command {
	var notes string
	var actorID string
	var reviewer string

	cmd := &cobra.Command{
		Use:   "set-status <workflow-id> <status>",
		Short: "Move a workflow to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				wf, err := s.Workflows.SetStatus(cmd.Context(), args[0], workflow.Transition{
					Status:     models.WorkflowStatus(args[1]),
					Notes:      notes,
					ReviewerID: reviewer,
				}, actorID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s is %s\n", wf.ID, wf.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Review notes recorded with the change")
	cmd.Flags().StringVar(&actorID, "actor", "operator", "Identity recorded in the audit trail")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer to assign")
	return cmd
}

func newWorkflowHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <workflow-id>",
		Short: "Show the audit trail of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(s *app.Services) error {
				entries, err := s.Workflows.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), entries)
				}

				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.CreatedAt.Format("2006-01-02 15:04:05"),
						e.Action,
						e.FromStatus,
						e.ToStatus,
						e.ActorID,
						truncate(e.Notes, 40),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"When", "Action", "From", "To", "Actor", "Notes"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}
