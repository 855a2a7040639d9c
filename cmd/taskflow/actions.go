package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/logging"
)

func newActionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "actions",
		Usage: "List the actions workflows can reference by name",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "schema", Usage: "Print each action's parameter schema"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			registry, err := newActionRegistry(cfg, backend.NewProcessManager(), nil, "", logging.Discard())
			if err != nil {
				return err
			}

			out := command.Root().Writer
			if command.Bool("schema") {
				for _, info := range registry.Actions() {
					fmt.Fprintf(out, "%s (%s)\n%s\n\n", info.Name, info.Mode, info.Schema)
				}
				return nil
			}

			t := plainTable("ACTION", "MODE", "DESCRIPTION")
			for _, info := range registry.Actions() {
				t.Row(info.Name, info.Mode.String(), info.Description)
			}
			_, err = fmt.Fprintln(out, t.Render())
			return err
		},
	}
}
