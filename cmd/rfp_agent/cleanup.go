package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/proposalworks/rfp-responder/internal/config"
	"github.com/proposalworks/rfp-responder/internal/store"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired processing task records",
	Long:  `Delete processing task records older than the retention window. The serve command runs this automatically on an interval; cleanup is the one-shot form for cron or manual use.`,
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Retention window (defaults to TASK_RETENTION / 7 days)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}

	retention := cfg.TaskRetention
	if cleanupOlderThan > 0 {
		retention = cleanupOlderThan
	}

	ctx := cmd.Context()
	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, err := db.DeleteTasksBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d task(s) older than %s\n", deleted, retention)
	return nil
}
