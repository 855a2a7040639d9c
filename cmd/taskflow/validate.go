package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/definition"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow definitions without running them",
		ArgsUsage: "<workflow.yaml>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			paths := command.Args().Slice()
			if len(paths) == 0 {
				return errors.New("validate: missing workflow definition file")
			}

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			registry, err := newActionRegistry(cfg, backend.NewProcessManager(), nil, "", logging.Discard())
			if err != nil {
				return err
			}
			resolver := scheduler.NewResolver(registry)

			out := command.Root().Writer
			failed := 0
			for _, path := range paths {
				order, err := validateFile(resolver, path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s\n  %s\n", path, strings.ReplaceAll(err.Error(), "\n", "\n  "))
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s)\n", path, strings.Join(order, " -> "))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d workflow definitions are invalid", failed, len(paths))
			}
			return nil
		},
	}
}

// validateFile parses, builds and preflights one definition. It returns the
// task names in topological order.
func validateFile(resolver *scheduler.Resolver, path string) ([]string, error) {
	def, err := definition.Load(path)
	if err != nil {
		return nil, err
	}
	wf, err := def.Build()
	if err != nil {
		return nil, err
	}
	order, err := wf.Validate()
	if err != nil {
		return nil, err
	}
	if err := resolver.Preflight(wf, def.InitialContext()); err != nil {
		return nil, err
	}
	return order, nil
}
