package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/index"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

// itemJob is one unit of pipeline work. It reports through its outcome and never fails the batch.
type itemJob struct {
	key string
	run func(ctx context.Context, w *writer, log *logger.Logger) model.ItemOutcome
}

// insertRequest is a document waiting for the writer
type insertRequest struct {
	ctx  context.Context
	doc  model.Document
	done chan error
}

// writer owns every Insert call for one batch
type writer struct {
	requests chan insertRequest
	wg       sync.WaitGroup
}

func startWriter(idx index.Index) *writer {
	w := &writer{requests: make(chan insertRequest)}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for req := range w.requests {
			req.done <- idx.Insert(req.ctx, req.doc)
		}
	}()
	return w
}

// insert blocks until the writer has applied doc
func (w *writer) insert(ctx context.Context, doc model.Document) error {
	req := insertRequest{ctx: ctx, doc: doc, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) stop() {
	close(w.requests)
	w.wg.Wait()
}

// runBatch fans jobs out to a fresh pool and collects every outcome.
// When idx is non-nil, new transcripts are inserted through a single writer.
func (o *Orchestrator) runBatch(ctx context.Context, source model.Source, jobs []itemJob, idx index.Index, log *logger.Logger) model.BatchReport {
	report := model.BatchReport{Source: source}
	if len(jobs) == 0 {
		return report
	}

	var w *writer
	if idx != nil {
		w = startWriter(idx)
		defer w.stop()
	}

	queue := make(chan itemJob)
	results := make(chan model.ItemOutcome)

	var pool sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		pool.Add(1)
		go func() {
			defer pool.Done()
			for job := range queue {
				results <- o.execute(ctx, job, w, log.With("key", job.key))
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		pool.Wait()
		close(results)
	}()

	for outcome := range results {
		report.Add(outcome)
	}
	log.WithField("report", report.String()).Info("batch complete")
	return report
}

// execute runs one job, turning a panic into an item failure
func (o *Orchestrator) execute(ctx context.Context, job itemJob, w *writer, log *logger.Logger) (outcome model.ItemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New(errors.CodeInternal, fmt.Sprintf("item job panicked: %v", r))
			log.WithError(err).Error("item failed")
			outcome = model.ItemOutcome{Key: job.key, Kind: model.OutcomeFailed, Err: err}
		}
	}()
	if err := ctx.Err(); err != nil {
		return model.ItemOutcome{Key: job.key, Kind: model.OutcomeFailed, Err: errors.Wrap(err, errors.CodeCancelled, "item abandoned")}
	}
	return job.run(ctx, w, log)
}
