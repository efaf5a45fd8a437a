package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the active driver policy and configured queue bindings",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	fmt.Printf("driver=%s dual_write=%t fallback_to_legacy=%t prefix=%s\n",
		bus.cfg.Driver, bus.cfg.DualWrite, bus.cfg.FallbackToLegacy, bus.cfg.Prefix)

	if bus.legacy != nil {
		fmt.Printf("legacy driver available=%t\n", bus.legacy.IsAvailable(ctx))
	}

	for _, q := range monitoredQueueSet() {
		fmt.Printf("queue %s exists=%t\n", q, bus.resolver.QueueExists(ctx, q))
	}
	return nil
}
