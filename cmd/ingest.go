package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/orchestrator"
)

// ingestCmd runs one ingestion pass synchronously
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest recordings or uploads into the index",
	Long: `Run one ingestion pass in the foreground. Items that already have transcripts are
skipped. The command exits non-zero when the run ends in the failed state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceName, _ := cmd.Flags().GetString("source")
		source, err := model.ParseSource(sourceName)
		if err != nil {
			return err
		}
		room, _ := cmd.Flags().GetString("room")
		limit, _ := cmd.Flags().GetInt("max")
		format, _ := cmd.Flags().GetString("format")

		formatter, err := NewFormatter(format)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.New()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if source == model.SourceDaily && !a.orch.DailyEnabled() {
			return fmt.Errorf("daily source requires DAILY_API_KEY")
		}

		a.orch.Load(ctx)
		status := a.orch.InitializeOrUpdate(ctx, orchestrator.IngestRequest{
			Source:        source,
			RoomName:      room,
			MaxRecordings: limit,
		})

		out, err := formatter.FormatStatus(status)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)

		if status.State == model.StateError {
			return fmt.Errorf("ingestion failed: %s", status.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringP("source", "s", "uploads", "Source to ingest (daily or uploads)")
	ingestCmd.Flags().String("room", "", "Daily room name (overrides config)")
	ingestCmd.Flags().Int("max", 0, "Maximum Daily recordings to consider (overrides config)")
	ingestCmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
}
