package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/events"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/middleware"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Observe domain events",
	}
	eventsCmd.AddCommand(newEventsTailCommand(ctx))
	return eventsCmd
}

func newEventsTailCommand(ctx *commandContext) *cobra.Command {
	var patterns []string
	var queueName string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events from the broker as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Events.Enabled {
				return errors.New("events are disabled in the configuration")
			}
			if queueName == "" {
				host, _ := os.Hostname()
				queueName = fmt.Sprintf("vcctl.tail.%s.%d", host, os.Getpid())
			}

			sub, err := events.NewSubscriber(cfg.Events, queueName, patterns, nil)
			if err != nil {
				return err
			}
			defer sub.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return sub.Consume(runCtx, func(_ context.Context, event events.Event) error {
				if ctx.jsonOutput() {
					return writeJSON(out, event)
				}
				subject := event.JobID
				if subject == "" {
					subject = event.WorkflowID
				}
				if subject == "" {
					subject = event.AssetID
				}
				fmt.Fprintf(out, "%s  %-22s %s\n", event.OccurredAt.Format(time.RFC3339), event.Type, subject)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&patterns, "pattern", []string{"#"}, "Routing key patterns to bind")
	cmd.Flags().StringVar(&queueName, "queue", "", "Queue name (default a per-process queue)")
	return cmd
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for calling the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if userID == "" {
				return errors.New("--user is required")
			}
			token, err := middleware.NewAuthenticator(cfg.Auth.JWTSecret).GenerateToken(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id carried by the token")
	cmd.Flags().StringVar(&role, "role", "", "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
