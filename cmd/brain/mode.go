package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show or change the work mode",
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current work mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			m, err := a.modes.Mode(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.Label(), m.Description())
			return nil
		})
	},
}

var modeSetCmd = &cobra.Command{
	Use:   "set <manual|semi_auto|autonomous>",
	Short: "Change the work mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			settings, err := a.modes.SetMode(ctx, userID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mode set to %s\n", settings.WorkMode.Label())
			return nil
		})
	},
}

func init() {
	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}
