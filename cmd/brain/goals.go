package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/formatter"
	"github.com/harunnryd/brain/internal/goal"

	"github.com/spf13/cobra"
)

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Manage long-running marketing goals",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			goals, err := a.repos.Goals.Query(ctx, userID, func(g *domain.Goal) bool {
				return all || g.Status == domain.GoalActive || g.Status == domain.GoalPaused
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.NewTableFormatter().FormatGoals(goals))
			return nil
		})
	},
}

var goalsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a goal and decompose it into plans",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		criteria, _ := cmd.Flags().GetStringSlice("criteria")

		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			acct, err := a.orch.Account(ctx, userID)
			if err != nil {
				return err
			}
			g, err := a.goals.CreateGoal(ctx, acct, goal.Definition{
				Title:           strings.Join(args, " "),
				Description:     description,
				Priority:        domain.ParsePriority(priority),
				SuccessCriteria: criteria,
			})
			if err != nil {
				return err
			}
			status, err := a.goals.FormatGoalStatus(ctx, g)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var goalsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a goal with its decomposition and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			g, err := a.repos.Goals.GetOwned(ctx, args[0], userID)
			if err != nil {
				return err
			}
			status, err := a.goals.FormatGoalStatus(ctx, g)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var goalsNextCmd = &cobra.Command{
	Use:   "next <id>",
	Short: "Show the next runnable sub-plan of a goal",
	Long:  `Shows the next decomposition entry whose dependency is met. With --run the entry is planned and executed or sent for approval, following the work mode.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetBool("run")
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			g, err := a.repos.Goals.GetOwned(ctx, args[0], userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !run {
				entry, err := a.goals.NextAction(ctx, g)
				if err != nil {
					return err
				}
				if entry == nil {
					fmt.Fprintln(out, "Nothing runnable right now.")
					return nil
				}
				fmt.Fprintf(out, "%d. [%s] %s\n", entry.Order, entry.Agent, entry.Title)
				return nil
			}

			acct, err := a.orch.Account(ctx, userID)
			if err != nil {
				return err
			}
			adv, err := a.advancer.AdvanceGoal(ctx, acct, g)
			if err != nil {
				return err
			}
			if adv == nil {
				fmt.Fprintln(out, "Nothing runnable right now.")
				return nil
			}
			fmt.Fprintln(out, adv.Message)
			return nil
		})
	},
}

func init() {
	goalsListCmd.Flags().Bool("all", false, "include completed, failed and cancelled goals")
	goalsCreateCmd.Flags().String("description", "", "goal description")
	goalsCreateCmd.Flags().String("priority", string(domain.PriorityMedium), "low, medium, high or urgent")
	goalsCreateCmd.Flags().StringSlice("criteria", nil, "success criteria")
	goalsNextCmd.Flags().Bool("run", false, "plan and run the next entry")

	goalsCmd.AddCommand(goalsListCmd)
	goalsCmd.AddCommand(goalsCreateCmd)
	goalsCmd.AddCommand(goalsStatusCmd)
	goalsCmd.AddCommand(goalsNextCmd)
	rootCmd.AddCommand(goalsCmd)
}
