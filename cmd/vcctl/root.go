package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
)

// connectFunc opens the services a command operates on
type connectFunc func(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app.Services, error)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool
	connect    connectFunc

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = "config.yaml"
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) withServices(ctx context.Context, fn func(*app.Services) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Config{Level: "warn", Format: "console", Output: "stderr", Service: "vcctl"})
	if err != nil {
		return err
	}
	services, err := c.connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer services.Close()
	return fn(services)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func newRootCommand(connect connectFunc) *cobra.Command {
	var configFlag string
	var jsonFlag bool

	if connect == nil {
		connect = app.Connect
	}
	ctx := &commandContext{configFlag: &configFlag, jsonFlag: &jsonFlag, connect: connect}

	rootCmd := &cobra.Command{
		Use:           "vcctl",
		Short:         "Operate the video content pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newWorkflowCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
