package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/orchestrator"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Starter dispatches a background ingestion run
type Starter interface {
	TryStart(req orchestrator.IngestRequest) error
}

// Scheduler triggers upload ingestion on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	starter  Starter
	log      *logger.Logger
}

// New parses expr and registers the upload trigger. The scheduler is idle until Start.
func New(expr string, starter Starter, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Discard()
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "invalid uploads schedule "+expr)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(cronParser)),
		schedule: sched,
		starter:  starter,
		log:      log.With("component", "schedule"),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.trigger))
	return s, nil
}

// Start runs the scheduler until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.log.WithField("next", s.Next(time.Now()).Format(time.RFC3339)).Info("upload schedule started")

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Next returns the first fire time after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *Scheduler) trigger() {
	err := s.starter.TryStart(orchestrator.IngestRequest{Source: model.SourceUploads})
	switch {
	case err == nil:
		s.log.Info("scheduled upload ingestion dispatched")
	case errors.Is(err, errors.CodeConflict):
		s.log.Debug("ingestion already running; skipping scheduled run")
	default:
		s.log.WithError(err).Warn("scheduled upload ingestion not started")
	}
}
