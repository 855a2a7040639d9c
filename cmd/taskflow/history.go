package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	cli "github.com/urfave/cli/v3"

	"github.com/aristath/taskflow/internal/persistence"
)

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect recorded workflow runs",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recent runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workflow", Usage: "Only runs of this workflow"},
					&cli.StringFlag{Name: "status", Usage: "Only runs with this status (completed, deadlocked, cancelled)"},
					&cli.IntFlag{Name: "limit", Usage: "Max runs to show", Value: 20},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withHistory(ctx, command, func(store persistence.Store) error {
						runs, err := store.ListRuns(ctx, persistence.RunFilter{
							Workflow: command.String("workflow"),
							Status:   command.String("status"),
							Limit:    command.Int("limit"),
						})
						if err != nil {
							return err
						}
						printRuns(command.Root().Writer, runs, time.Now())
						return nil
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Show one run with its task results",
				ArgsUsage: "<run-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "transcript", Usage: "Include provider conversations"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return errors.New("history show: missing run id")
					}
					return withHistory(ctx, command, func(store persistence.Store) error {
						run, err := store.GetRun(ctx, id)
						if err != nil {
							return err
						}
						out := command.Root().Writer
						printRun(out, run, time.Now())
						if command.Bool("transcript") {
							return printTranscripts(ctx, out, store, run)
						}
						return nil
					})
				},
			},
			{
				Name:  "prune",
				Usage: "Delete runs older than the given age",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "Age cutoff, e.g. 720h", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withHistory(ctx, command, func(store persistence.Store) error {
						n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-command.Duration("older-than")))
						if err != nil {
							return err
						}
						fmt.Fprintf(command.Root().Writer, "deleted %s runs\n", humanize.Comma(n))
						return nil
					})
				},
			},
		},
	}
}

func withHistory(ctx context.Context, command *cli.Command, fn func(persistence.Store) error) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("run history is disabled in the config")
	}
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// plainTable renders columns separated by blanks, with no box drawing, so the
// output stays greppable.
func plainTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().PaddingRight(1)
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		StyleFunc(func(row, col int) lipgloss.Style { return cell }).
		Headers(headers...)
}

func printRuns(w io.Writer, runs []persistence.RunSummary, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := plainTable("RUN", "WORKFLOW", "STATUS", "TASKS", "ROUNDS", "STARTED", "DURATION")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.Workflow,
			r.Status,
			fmt.Sprintf("%d/%d ok, %d failed", r.Completed, r.Total, r.Failed),
			strconv.Itoa(r.Rounds),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printRun(w io.Writer, run *persistence.Run, now time.Time) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Workflow: %s\n", run.Workflow)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Started:  %s (%s)\n", run.StartedAt.Format(time.RFC3339), humanize.RelTime(run.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(w, "Rounds:   %d\n", run.Rounds)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}

	t := plainTable("TASK", "STATUS", "ATTEMPTS", "TIME", "OUTPUT")
	for _, task := range run.Tasks {
		detail := task.Output
		if task.Error != "" {
			detail = "error: " + task.Error
		}
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		t.Row(task.Name, task.Status, strconv.Itoa(task.Attempts), task.ExecutionTime.Round(time.Millisecond).String(), detail)
	}
	fmt.Fprintf(w, "\n%s\n", t.Render())
}

func printTranscripts(ctx context.Context, w io.Writer, store persistence.Store, run *persistence.Run) error {
	for _, t := range run.Tasks {
		turns, err := store.GetHistory(ctx, run.ID, t.Name)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", t.Name)
		for _, turn := range turns {
			fmt.Fprintf(w, "[%s] %s:\n%s\n", turn.Timestamp.Format(time.TimeOnly), turn.Role, turn.Content)
		}
	}
	return nil
}
