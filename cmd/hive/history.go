package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aristath/hive/internal/persistence"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit     int
		showTasks bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored query results or tasks",
		Long:  `Read past query results, or tasks with --tasks, from the store configured under store.path.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("no store configured: set store.path")
			}

			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			out := cmd.OutOrStdout()
			t := table.New().Border(lipgloss.NormalBorder())

			if showTasks {
				tasks, err := store.ListTasks(ctx)
				if err != nil {
					return err
				}
				slices.Reverse(tasks)
				if limit > 0 && len(tasks) > limit {
					tasks = tasks[:limit]
				}
				t.Headers("ID", "TYPE", "STATUS", "CREATED", "WORKERS")
				for _, task := range tasks {
					t.Row(
						task.ID,
						string(task.Type),
						task.Status.String(),
						task.CreatedAt.Format("2006-01-02 15:04:05"),
						strings.Join(task.AssignedWorkers, ","),
					)
				}
				fmt.Fprintln(out, t.String())
				return nil
			}

			results, err := store.ListQueryResults(ctx, limit)
			if err != nil {
				return err
			}
			t.Headers("ID", "WHEN", "STEPS", "CONTRIBUTORS", "QUERY")
			for _, r := range results {
				t.Row(
					r.ID,
					r.Timestamp.Format("2006-01-02 15:04:05"),
					fmt.Sprint(r.StepsTaken),
					strings.Join(r.ContributingWorkers, ","),
					clip(r.Query, 50),
				)
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "show at most this many entries, newest first (0 for all)")
	cmd.Flags().BoolVar(&showTasks, "tasks", false, "list tasks instead of query results")
	return cmd
}
