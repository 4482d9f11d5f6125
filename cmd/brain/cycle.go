package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/brain/internal/orchestrator"

	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Inspect and trigger the autonomous cycle",
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cycle for the workspace user now",
	Long:  `Analyzes the account, seeds goals, scores candidate tasks and works on them according to the user's work mode. The cron interval is ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			rep, err := a.orch.RunCycle(ctx, userID)
			if err != nil {
				return fmt.Errorf("cycle failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), orchestrator.FormatCycle(rep))
			return nil
		})
	},
}

func init() {
	cycleCmd.AddCommand(cycleRunCmd)
	rootCmd.AddCommand(cycleCmd)
}
