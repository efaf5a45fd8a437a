package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-processed-events",
	Short: "Delete durable-tier processed_events rows past their retention window",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window in days (0 uses the configured default)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()

	days := cleanupDays
	if days <= 0 {
		days = bus.cfg.Cleanup.RetentionDays
	}

	removed, err := bus.store.Cleanup(ctx, days)
	if err != nil {
		return fmt.Errorf("cleanup-processed-events: %w", err)
	}

	fmt.Printf("removed %d row(s) older than %d day(s)\n", removed, days)
	return nil
}
