package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/logger"
)

// queryCmd answers a question from the persisted index
var queryCmd = &cobra.Command{
	Use:   "query [QUESTION]",
	Short: "Query the transcript index",
	Long:  `Load the persisted index and answer a question from the transcripts.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		formatter, err := NewFormatter(format)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		a, err := newApp(ctx, cfg, logger.Discard())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.orch.Load(ctx) {
			return fmt.Errorf("no index found in %s; run `tidx ingest` first", cfg.Dirs.Index)
		}

		answer, err := a.orch.Query(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("failed to query index: %w", err)
		}

		out, err := formatter.FormatAnswer(answer)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
}
