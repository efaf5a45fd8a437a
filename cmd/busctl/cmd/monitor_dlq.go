package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/prism-msgbus/internal/config"
)

var monitorDLQThreshold int

var monitorDLQCmd = &cobra.Command{
	Use:   "monitor-dlq [queue...]",
	Short: "Check DLQ depth for one or more queues, alerting above threshold",
	RunE:  runMonitorDLQ,
}

func init() {
	monitorDLQCmd.Flags().IntVar(&monitorDLQThreshold, "threshold", 0, "depth above which an alert fires (0 uses the configured default)")
	rootCmd.AddCommand(monitorDLQCmd)
}

func runMonitorDLQ(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	queues := args
	if len(queues) == 0 {
		queues = monitoredQueueSet()
	}

	threshold := monitorDLQThreshold
	if threshold <= 0 {
		threshold = bus.cfg.DLQ.AlertThreshold
	}

	results, anyAlert, err := bus.dlqTools.Monitor(ctx, queues, threshold)
	if err != nil {
		return fmt.Errorf("monitor-dlq: %w", err)
	}

	for _, r := range results {
		status := "ok"
		if r.Alerted {
			status = "ALERT"
		}
		fmt.Printf("%s\tdepth=%d\t%s\n", r.LogicalQueue, r.Depth, status)
	}

	if anyAlert {
		return fmt.Errorf("monitor-dlq: depth threshold exceeded on at least one queue")
	}
	return nil
}

func monitoredQueueSet() []string {
	return configuredQueueSet(bus.cfg)
}

// configuredQueueSet collects every logical queue name named anywhere
// in cfg's bindings (TargetQueues and per-service Queues), deduped.
// Shared by monitoredQueueSet, ensure-queues, and AutoEnsure startup.
func configuredQueueSet(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var queues []string
	for _, q := range cfg.TargetQueues {
		if !seen[q] {
			seen[q] = true
			queues = append(queues, q)
		}
	}
	for _, qs := range cfg.Queues {
		if qs.Default != "" && !seen[qs.Default] {
			seen[qs.Default] = true
			queues = append(queues, qs.Default)
		}
		for _, q := range qs.Specific {
			if !seen[q] {
				seen[q] = true
				queues = append(queues, q)
			}
		}
	}
	return queues
}
