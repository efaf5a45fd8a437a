package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectDLQLimit int

var inspectDLQCmd = &cobra.Command{
	Use:   "inspect-dlq <queue>",
	Short: "Peek at messages sitting on a queue's DLQ without acking them",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectDLQ,
}

func init() {
	inspectDLQCmd.Flags().IntVar(&inspectDLQLimit, "limit", 10, "maximum messages to peek")
	rootCmd.AddCommand(inspectDLQCmd)
}

func runInspectDLQ(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	results, err := bus.dlqTools.Inspect(ctx, args[0], inspectDLQLimit)
	if err != nil {
		return fmt.Errorf("inspect-dlq: %w", err)
	}

	for _, r := range results {
		if r.DecodeError != nil {
			fmt.Printf("%s\treceive_count=%s\tmalformed: %v\n", r.MessageID, r.ReceiveCount, r.DecodeError)
			continue
		}
		fmt.Printf("%s\treceive_count=%s\tevent_type=%s\ttrace_id=%s\n",
			r.MessageID, r.ReceiveCount, r.Envelope.EventType, r.Envelope.TraceID)
	}
	fmt.Printf("%d message(s)\n", len(results))
	return nil
}
