package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/brain/internal/digest"

	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Compile the performance digest and print it",
	Long:  `Compares the last week (or month) of campaign, subscriber, CRM and automation metrics with the period before and prints the digest as it would be sent over Telegram.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, _ := cmd.Flags().GetString("period")
		if period != digest.PeriodWeek && period != digest.PeriodMonth {
			return fmt.Errorf("invalid period %q: use week or month", period)
		}
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			acct, err := a.orch.Account(ctx, userID)
			if err != nil {
				return err
			}
			d, err := a.digest.Generate(ctx, acct, period)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest.FormatTelegram(d))
			return nil
		})
	},
}

func init() {
	digestCmd.Flags().String("period", digest.PeriodWeek, "digest period: week or month")
	rootCmd.AddCommand(digestCmd)
}
