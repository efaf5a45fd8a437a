package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every backing store and transport busctl depends on",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	var failures []string

	if err := bus.pgPool.Ping(ctx); err != nil {
		failures = append(failures, fmt.Sprintf("postgres: %v", err))
	} else {
		fmt.Println("postgres: ok")
	}

	if err := bus.redisClient.Ping(ctx).Err(); err != nil {
		failures = append(failures, fmt.Sprintf("redis: %v", err))
	} else {
		fmt.Println("redis: ok")
	}

	if bus.legacy != nil {
		if !bus.legacy.IsAvailable(ctx) {
			failures = append(failures, "legacy: not connected")
		} else {
			fmt.Println("legacy: ok")
		}
	}

	for _, q := range monitoredQueueSet() {
		if !bus.resolver.QueueExists(ctx, q) {
			failures = append(failures, fmt.Sprintf("queue %s: not provisioned", q))
		} else {
			fmt.Printf("queue %s: ok\n", q)
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Println("FAIL:", f)
		}
		return fmt.Errorf("check: %d check(s) failed", len(failures))
	}
	return nil
}
