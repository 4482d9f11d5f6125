package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/brain/internal/formatter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect candidate autonomous work",
}

var tasksScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print the scored task list a cycle would pick from",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			tasks, err := a.orch.ScoreTasks(ctx, userID, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.NewTableFormatter().FormatTasks(tasks))
			return nil
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review finished campaigns and record lessons",
	Long:  `Snapshots campaign plans that finished inside the review window, rates them against benchmarks and stores the lessons in the knowledge base.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			acct, err := a.orch.Account(ctx, userID)
			if err != nil {
				return err
			}
			res, err := a.tracker.ReviewCompleted(ctx, acct)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reviewed %d campaign(s).\n", res.Reviewed)
			if len(res.Snapshots) > 0 {
				fmt.Fprintln(out, formatter.NewTableFormatter().FormatSnapshots(res.Snapshots))
			}
			for _, l := range res.Lessons {
				marker := "-"
				if l.AboveAverage {
					marker = "+"
				}
				fmt.Fprintf(out, "%s %s: open %.1f%%, click %.1f%%\n", marker, l.Title, l.OpenRate, l.ClickRate)
			}
			return nil
		})
	},
}

func init() {
	tasksScoreCmd.Flags().Int("limit", 0, "show at most this many tasks, 0 for all")
	tasksCmd.AddCommand(tasksScoreCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(reviewCmd)
}
