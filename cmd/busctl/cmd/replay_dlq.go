package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var replayDLQLimit int

var replayDLQCmd = &cobra.Command{
	Use:   "replay-dlq <queue>",
	Short: "Republish messages off a queue's DLQ back onto the main queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplayDLQ,
}

func init() {
	replayDLQCmd.Flags().IntVar(&replayDLQLimit, "limit", 10, "maximum messages to replay")
	rootCmd.AddCommand(replayDLQCmd)
}

func runReplayDLQ(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	result, err := bus.dlqTools.Replay(ctx, args[0], replayDLQLimit)
	if err != nil {
		return fmt.Errorf("replay-dlq: %w", err)
	}

	fmt.Printf("replayed=%d failed=%d\n", result.Replayed, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("replay-dlq: %d message(s) failed to replay", result.Failed)
	}
	return nil
}
