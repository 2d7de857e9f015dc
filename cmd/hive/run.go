package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aristath/hive/internal/orchestrator"
	"github.com/aristath/hive/internal/scheduler"
	"github.com/aristath/hive/internal/tui"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		useTUI      bool
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "run <tasks-file>",
		Short: "Run a task file through the scheduler",
		Long: `Queue every task in a JSON or TOML task file and dispatch them to the
configured workers, respecting priorities and dependencies. Exits non-zero
when any task fails or is left waiting on a failed dependency.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			specs, err := orchestrator.LoadTaskFile(args[0])
			if err != nil {
				return err
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if maxParallel > 0 {
				cfg.Scheduler.MaxParallel = maxParallel
			}

			sess, closeSession, err := root.openSession(cmd, cfg, useTUI)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeSession(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if useTUI {
				return runWithTUI(cmd, sess, specs)
			}

			tasks, err := sess.RunTasks(cmd.Context(), specs)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return failedTasks(tasks)
		},
	}

	cmd.Flags().BoolVar(&useTUI, "tui", false, "watch progress in a terminal UI")
	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "p", 0, "override scheduler.max_parallel")
	return cmd
}

// runWithTUI runs the tasks in the background while the TUI renders the
// session's events. Quitting the TUI early cancels the run.
func runWithTUI(cmd *cobra.Command, sess *orchestrator.Session, specs []orchestrator.TaskSpec) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(tui.New(sess.Bus),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	done := make(chan error, 1)
	go func() {
		tasks, err := sess.RunTasks(ctx, specs)
		if err == nil {
			err = failedTasks(tasks)
		}
		done <- err
		p.Send(tui.DoneMsg{Err: err})
	}()

	_, tuiErr := p.Run()
	cancel()
	runErr := <-done

	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return errors.Join(fmt.Errorf("tui: %w", tuiErr), runErr)
	}
	return runErr
}

// failedTasks reports failed tasks and pending ones that can never start.
func failedTasks(tasks []scheduler.Task) error {
	failed, stranded := 0, 0
	for _, t := range tasks {
		switch {
		case t.Status == scheduler.TaskFailed:
			failed++
		case errors.Is(t.Err, scheduler.ErrTaskStranded):
			stranded++
		}
	}
	switch {
	case failed > 0 && stranded > 0:
		return fmt.Errorf("%d of %d tasks failed, %d can never start", failed, len(tasks), stranded)
	case failed > 0:
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	case stranded > 0:
		return fmt.Errorf("%d of %d tasks can never start", stranded, len(tasks))
	}
	return nil
}

func printTasks(w io.Writer, tasks []scheduler.Task) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TYPE", "STATUS", "WORKERS", "OUTPUT")

	for _, task := range tasks {
		output := ""
		switch {
		case task.Err != nil:
			output = task.Err.Error()
		case task.Result != nil:
			output = task.Result.FinalOutput
		}
		t.Row(
			task.ID,
			string(task.Type),
			task.Status.String(),
			strings.Join(task.AssignedWorkers, ","),
			clip(output, 60),
		)
	}

	fmt.Fprintln(w, t.String())
}

// clip flattens s to one line of at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
