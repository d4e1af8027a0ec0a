package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/schedule"
	"github.com/Taichi-iskw/transcript-index/internal/server"
)

// serveCmd runs the HTTP control surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP control surface. The persisted index is loaded in the background,
and uploads are ingested on the configured schedule when one is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}

		log := logger.New()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		}()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		go a.orch.Load(ctx)

		if cfg.Ingest.UploadsSchedule != "" {
			sched, err := schedule.New(cfg.Ingest.UploadsSchedule, a.orch, log)
			if err != nil {
				return err
			}
			sched.Start(ctx)
		}

		opts := server.StartOpts{
			Orchestrator: a.orch,
			Uploads:      a.uploads,
			UploadsDir:   cfg.Dirs.Uploads,
			Port:         cfg.Server.Port,
			Log:          log,
			Out:          cmd.OutOrStdout(),
		}
		if a.runs != nil {
			opts.Runs = a.runs
		}
		return server.Start(ctx, opts)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
}
