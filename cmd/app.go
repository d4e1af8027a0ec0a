package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taichi-iskw/transcript-index/internal/config"
	"github.com/Taichi-iskw/transcript-index/internal/index"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/orchestrator"
	"github.com/Taichi-iskw/transcript-index/internal/repository/run"
	"github.com/Taichi-iskw/transcript-index/internal/repository/transcript"
	"github.com/Taichi-iskw/transcript-index/internal/service/daily"
	"github.com/Taichi-iskw/transcript-index/internal/service/media"
	"github.com/Taichi-iskw/transcript-index/internal/service/transcription"
)

// app bundles everything a command needs after configuration is resolved
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	orch    *orchestrator.Orchestrator
	uploads *media.Scanner
	store   *transcript.Store
	runs    run.Repository // nil without database_url
	pool    *pgxpool.Pool
}

// loadConfig resolves configuration and creates the working directories
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the orchestrator and its collaborators from cfg
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		uploads: media.NewScanner(cfg.Dirs.Uploads, cfg.Ingest.StabilityWait, log),
		store:   transcript.NewStore(cfg.Dirs.Transcripts),
	}

	deps := orchestrator.Deps{
		Store:       a.store,
		Engine:      index.NewLocalEngine(log),
		Transcriber: transcription.New(cfg, log),
		Extractor:   media.NewExtractor(cfg.Ingest.FFmpegPath),
		Uploads:     a.uploads,
		Log:         log,
	}

	if cfg.DailyEnabled() {
		client, err := daily.NewClient(cfg.Daily.APIKey, cfg.Daily.APIURL, daily.WithLogger(log))
		if err != nil {
			return nil, err
		}
		deps.Daily = client
	}

	if cfg.DatabaseURL != "" {
		pool, err := config.NewLedgerPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.runs = run.NewRepository(pool)
		deps.Runs = a.runs
	}

	a.orch = orchestrator.New(deps, orchestrator.Options{
		IndexDir:      cfg.Dirs.Index,
		ScratchDir:    cfg.Dirs.Recordings,
		Workers:       cfg.Ingest.Workers,
		RoomName:      cfg.Daily.RoomName,
		MaxRecordings: cfg.Daily.MaxRecordings,
	})
	return a, nil
}

// Close releases the index and the database pool
func (a *app) Close() {
	if err := a.orch.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close index")
	}
	config.CloseLedgerPool(a.pool)
}
