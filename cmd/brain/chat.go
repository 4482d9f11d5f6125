package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/orchestrator"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to Brain",
	Long:  `Routes a message through intent classification, agents and goals, and prints the reply. With --stream, conversational replies are printed as they are generated.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, _ := cmd.Flags().GetBool("stream")
		convID, _ := cmd.Flags().GetString("conversation")
		forceNew, _ := cmd.Flags().GetBool("new")

		return withApp(cmd, func(ctx context.Context, a *app, userID string) error {
			req := orchestrator.Request{
				Text:           strings.Join(args, " "),
				UserID:         userID,
				Channel:        domain.ChannelWeb,
				ConversationID: convID,
				ForceNew:       forceNew,
			}
			if stream {
				done, err := streamReply(ctx, cmd, a, req)
				if done || err != nil {
					return err
				}
			}

			resp, err := a.orch.ProcessMessage(ctx, req)
			if err != nil {
				return err
			}
			printResponse(cmd, resp)
			return nil
		})
	},
}

// streamReply prints a streamed reply. It reports false when the message
// needs the full pipeline instead.
func streamReply(ctx context.Context, cmd *cobra.Command, a *app, req orchestrator.Request) (bool, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	s, err := a.orch.StreamMessage(ctx, req)
	if errors.Is(err, brainErrors.ErrNotStreamable) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	out := cmd.OutOrStdout()
	for {
		chunk, ok := s.Next()
		if !ok {
			break
		}
		fmt.Fprint(out, chunk)
	}
	fmt.Fprintln(out)
	if err := s.Wait(); err != nil {
		return true, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s (%s)\n", s.ConversationID, s.Model)
	return true, nil
}

func printResponse(cmd *cobra.Command, resp *orchestrator.Response) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Message)

	var meta []string
	for _, kv := range [][2]string{
		{"type", resp.Type},
		{"conversation", resp.ConversationID},
		{"agent", resp.Agent},
		{"plan", resp.PlanID},
		{"approval", resp.ApprovalID},
		{"goal", resp.GoalID},
	} {
		if kv[1] != "" {
			meta = append(meta, kv[0]+"="+kv[1])
		}
	}
	if len(meta) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), strings.Join(meta, " "))
	}
}

func init() {
	chatCmd.Flags().Bool("stream", false, "stream conversational replies")
	chatCmd.Flags().StringP("conversation", "c", "", "continue a conversation by id")
	chatCmd.Flags().Bool("new", false, "start a new conversation")
	rootCmd.AddCommand(chatCmd)
}
