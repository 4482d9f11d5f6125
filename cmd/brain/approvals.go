package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/formatter"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review plans and goals waiting for approval",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			pending, err := a.modes.ListPending(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.NewTableFormatter().FormatApprovals(pending))
			return nil
		})
	},
}

func resolveApproval(approved bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		reason := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			resp, err := a.orch.HandleApproval(ctx, userID, args[0], approved, reason)
			if err != nil {
				return err
			}
			printResponse(cmd, resp)
			return nil
		})
	}
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending plan or goal proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveApproval(true),
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id> [reason...]",
	Short: "Reject a pending plan or goal proposal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  resolveApproval(false),
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}
