package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	cli "github.com/urfave/cli/v3"

	"github.com/aristath/taskflow/internal/actions"
	"github.com/aristath/taskflow/internal/app"
	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/definition"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tracing"
	"github.com/aristath/taskflow/internal/tui"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a workflow definition and print its report",
		ArgsUsage: "<workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "JSON object exposed to tasks as the input context key",
			},
			&cli.BoolFlag{
				Name:    "tui",
				Usage:   "Show live progress in a terminal UI",
				Sources: cli.EnvVars("TASKFLOW_TUI"),
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr (logs are dropped under --tui otherwise)",
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Max tasks in flight per round, 0 for unlimited (overrides the config)",
				Value:   -1,
				Sources: cli.EnvVars("TASKFLOW_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Working directory for provider CLIs (default: current directory)",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Resolve every task before the first round",
			},
		},
		Action: runWorkflow,
	}
}

func runWorkflow(ctx context.Context, command *cli.Command) error {
	path := command.Args().First()
	if path == "" {
		return errors.New("run: missing workflow definition file")
	}

	input, err := parseInput(command.String("input"))
	if err != nil {
		return err
	}

	def, err := definition.Load(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}
	if n := command.Int("concurrency"); n >= 0 {
		cfg.Engine.ConcurrencyLimit = n
	}
	if command.Bool("strict") {
		cfg.Engine.StrictPreflight = true
	}

	useTUI := command.Bool("tui")
	logOut, closeLog, err := logWriter(command.Root().ErrWriter, command.String("log-file"), useTUI)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := newLogger(cfg, logOut).With("workflow", def.Name)

	tracer, shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	var appOpts []app.Option
	var recorder actions.Recorder
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close run history", "error", err)
			}
		}()
		appOpts = append(appOpts, app.WithStore(store))
		recorder = store
	}

	pm := backend.NewProcessManager()
	// Kill provider subprocesses as soon as a signal arrives, not after the round drains
	stopKill := context.AfterFunc(ctx, func() {
		logger.Warn("shutdown signal received, killing subprocesses", "count", pm.Count())
		if err := pm.KillAll(); err != nil {
			logger.Error("failed to kill subprocesses", "error", err)
		}
	})
	defer stopKill()

	registry, err := newActionRegistry(cfg, pm, recorder, command.String("workdir"), logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	defer bus.Close()

	engine := orchestrator.New(scheduler.NewResolver(registry),
		orchestrator.WithConfig(engineConfig(cfg.Engine)),
		orchestrator.WithEventBus(bus),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithBreakers(orchestrator.NewBreakerRegistry(breakerConfig(cfg.Engine.Breakers), logger)),
	)

	wf, err := def.Build()
	if err != nil {
		return err
	}

	appOpts = append(appOpts, app.WithAgents(actions.AgentsFromConfig(cfg)), app.WithLogger(logger))
	application := app.New(app.Config{Name: def.Name, Description: def.Description}, engine, appOpts...)
	if err := application.AddWorkflow(wf, def.InitialContext()); err != nil {
		return err
	}

	if days := cfg.History.RetentionDays; days > 0 {
		if _, err := application.PruneHistory(ctx, time.Duration(days)*24*time.Hour); err != nil {
			logger.Warn("history pruning failed", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var uiDone chan error
	if useTUI {
		uiDone = make(chan error, 1)
		// The model subscribes here, before the first event is published
		p := tea.NewProgram(tui.New(bus), tea.WithContext(ctx))
		go func() {
			_, err := p.Run()
			// quitting the UI abandons the run
			cancel()
			uiDone <- err
		}()
	}

	report, execErr := application.ExecuteWorkflow(runCtx, wf.Name(), input)

	if uiDone != nil {
		if err := <-uiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Error("terminal UI failed", "error", err)
		}
	}

	if report != nil {
		if err := writeReport(command.Root().Writer, report); err != nil {
			return err
		}
	}
	return execErr
}

// parseInput decodes the --input flag. An empty flag yields an empty map.
func parseInput(raw string) (map[string]any, error) {
	input := map[string]any{}
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("invalid --input: %w", err)
	}
	return input, nil
}

// logWriter picks the log destination. The terminal UI owns the screen, so
// without a log file its logs are discarded.
func logWriter(stderr io.Writer, path string, useTUI bool) (io.Writer, func(), error) {
	if path == "" {
		if useTUI {
			return io.Discard, func() {}, nil
		}
		return stderr, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func writeReport(w io.Writer, report *orchestrator.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
