package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// consumeCmd runs exactly one ConsumerLoop cycle then exits, per
// spec.md §5's process model: no in-process long-lived loop, liveness
// and memory-bloat protection are externalized to the supervisor that
// restarts this process (systemd, a Kubernetes Job/restartPolicy,
// etc). A signal during the cycle cancels it cleanly instead of being
// left to kill the process mid-I/O.
var consumeCmd = &cobra.Command{
	Use:   "consume <queue>",
	Short: "Run one consumer loop cycle against a logical queue, then exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	logicalQueue := args[0]
	loop := bus.newConsumeLoop(logicalQueue)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := loop.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	slog.Info("cycle complete",
		"queue", logicalQueue,
		"processed", result.TotalProcessed,
		"success", result.Success,
		"validation_errors", result.ValidationErrors,
		"duplicates", result.Duplicates,
		"unmapped", result.UnmappedEvents,
		"permanent_errors", result.PermanentErrors,
		"transient_errors", result.TransientErrors,
	)
	return nil
}
