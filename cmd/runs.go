package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/config"
	"github.com/Taichi-iskw/transcript-index/internal/repository/run"
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
}

// runsListCmd lists recent ingestion runs from the ledger
var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ingestion runs",
	Long:  `List recent ingestion runs. Requires database_url to be configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		formatter, err := NewFormatter(format)
		if err != nil {
			return err
		}

		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := config.NewLedgerPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer config.CloseLedgerPool(pool)

		runs, err := run.NewRepository(pool).List(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		out, err := formatter.FormatRuns(runs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsListCmd.Flags().IntP("limit", "l", run.DefaultListLimit, "Maximum number of runs to show")
	runsListCmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
}
