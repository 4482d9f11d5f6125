package main

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/brain/internal/calendar"

	"github.com/spf13/cobra"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Plan and inspect the campaign calendar",
}

var calendarPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan next week's campaigns unless the week is already planned",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			acct, err := a.orch.Account(ctx, userID)
			if err != nil {
				return err
			}
			res, err := a.calendar.GenerateWeeklyPlan(ctx, acct)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Generated {
				fmt.Fprintf(out, "No new campaigns planned for the week of %s.\n", res.WeekStart.Format(time.DateOnly))
				return nil
			}
			fmt.Fprintf(out, "Planned %d campaign(s) for the week of %s.\n", res.Entries, res.WeekStart.Format(time.DateOnly))
			return nil
		})
	},
}

var calendarShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List upcoming planned campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			entries, err := a.calendar.Upcoming(ctx, userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No upcoming campaigns planned.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintln(out, calendar.FormatEntry(e))
			}
			return nil
		})
	},
}

func init() {
	calendarShowCmd.Flags().Int("limit", calendar.DefaultUpcoming, "show at most this many entries")
	calendarCmd.AddCommand(calendarPlanCmd, calendarShowCmd)
	rootCmd.AddCommand(calendarCmd)
}
