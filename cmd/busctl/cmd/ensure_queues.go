package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var ensureQueuesCmd = &cobra.Command{
	Use:   "ensure-queues",
	Short: "Create every configured queue (and its DLQ) if missing",
	RunE:  runEnsureQueues,
}

func init() {
	rootCmd.AddCommand(ensureQueuesCmd)
}

func runEnsureQueues(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	for _, q := range monitoredQueueSet() {
		url, err := bus.resolver.Resolve(ctx, q)
		if err != nil {
			return fmt.Errorf("ensure-queues: %s: %w", q, err)
		}
		fmt.Printf("ensured %s -> %s\n", q, url)
	}
	return nil
}
