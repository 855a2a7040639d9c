package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/taskflow/internal/actions"
	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

// loadConfig merges the global and project config files and applies the
// root command's flag overrides.
func loadConfig(command *cli.Command) (*config.TaskflowConfig, error) {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	if path := command.String("config"); path != "" {
		projectPath = path
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, err
	}

	if level := command.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format := command.String("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if path := command.String("history-db"); path != "" {
		cfg.History.Enabled = true
		cfg.History.Path = path
	}

	// flags bypass the file checks, so validate again
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.TaskflowConfig, w io.Writer) *slog.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format, w)
}

func engineConfig(cfg config.EngineConfig) orchestrator.Config {
	retry := orchestrator.DefaultRetryConfig()
	retry.InitialInterval = cfg.Retry.InitialInterval.Std()
	retry.MaxInterval = cfg.Retry.MaxInterval.Std()
	retry.MaxElapsedTime = cfg.Retry.MaxElapsedTime.Std()
	if cfg.Retry.Multiplier > 0 {
		retry.Multiplier = cfg.Retry.Multiplier
	}

	return orchestrator.Config{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		BlockingWorkers:  cfg.BlockingWorkers,
		Retry:            retry,
		StrictPreflight:  cfg.StrictPreflight,
	}
}

func breakerConfig(cfg config.BreakerConfig) orchestrator.BreakerConfig {
	return orchestrator.BreakerConfig{
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		OpenTimeout:         cfg.OpenTimeout.Std(),
		HalfOpenRequests:    cfg.HalfOpenRequests,
	}
}

// newActionRegistry builds a registry holding the built-in actions.
// recorder may be nil when history is disabled. Provider CLIs run in workDir,
// or the current directory when it is empty.
func newActionRegistry(cfg *config.TaskflowConfig, pm *backend.ProcessManager, recorder actions.Recorder, workDir string, logger *slog.Logger) (*scheduler.Registry, error) {
	reg := scheduler.NewRegistry()
	err := actions.Register(reg, actions.Deps{
		Backends: backend.NewRegistry(pm),
		Agents:   actions.AgentsFromConfig(cfg),
		Recorder: recorder,
		WorkDir:  workDir,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// openHistory opens the run history database. It returns nil when history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (*persistence.SQLiteStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := persistence.NewSQLiteStore(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", cfg.Path, err)
	}
	return store, nil
}
