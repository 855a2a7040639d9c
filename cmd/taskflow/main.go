package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "taskflow",
		Usage:                 "Run dependency-ordered task workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Project config file (default .taskflow/config.json)",
				Sources: cli.EnvVars("TASKFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error), overrides the config",
				Sources: cli.EnvVars("TASKFLOW_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json), overrides the config",
				Sources: cli.EnvVars("TASKFLOW_LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "history-db",
				Usage:   "Run history database, overrides the config",
				Sources: cli.EnvVars("TASKFLOW_HISTORY_DB"),
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
			newHistoryCommand(),
			newActionsCommand(),
		},
	}
}

func main() {
	// A second Ctrl+C after stop() falls back to the default handler and exits
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
