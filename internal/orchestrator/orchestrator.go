// Package orchestrator owns the index lifecycle. It fans ingestion work out to a
// bounded worker pool, skips items that already have transcripts, isolates item
// failures from the batch, and decides when the index may be queried.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/index"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/service/daily"
	"github.com/Taichi-iskw/transcript-index/internal/service/media"
	"github.com/Taichi-iskw/transcript-index/internal/service/transcription"
)

// DefaultWorkers is the per-batch worker pool capacity
const DefaultWorkers = 5

// ErrNotReady is returned by Query before an index is loaded
var ErrNotReady = errors.New(errors.CodeNotReady, "index is not ready to query; trigger indexing and poll status")

// TranscriptStore is the idempotency gate and the corpus for bulk builds
type TranscriptStore interface {
	Exists(key string) (bool, error)
	Save(key, text string) error
	Documents() ([]model.Document, error)
}

// UploadScanner lists uploads whose write has completed
type UploadScanner interface {
	Scan(ctx context.Context) ([]model.Upload, error)
}

// RunRecorder records ingestion runs. A nil recorder disables the ledger.
type RunRecorder interface {
	Start(ctx context.Context, run *model.Run) error
	Finish(ctx context.Context, run *model.Run) error
}

// Deps are the collaborators the orchestrator drives
type Deps struct {
	Store       TranscriptStore
	Engine      index.Engine
	Transcriber transcription.Transcriber
	Extractor   media.Extractor
	Uploads     UploadScanner
	Daily       daily.SourceClient // nil when no Daily key is configured
	Runs        RunRecorder        // optional
	Log         *logger.Logger
}

// Options tune the orchestrator
type Options struct {
	IndexDir      string
	ScratchDir    string // downloaded videos and extracted audio for cloud recordings
	Workers       int
	RoomName      string
	MaxRecordings int
}

// IngestRequest selects the source for one run. Non-empty room and positive max
// override the configured values for this and later runs.
type IngestRequest struct {
	Source        model.Source `json:"source"`
	RoomName      string       `json:"room_name,omitempty"`
	MaxRecordings int          `json:"max_recordings,omitempty"`
}

// Orchestrator is the single owner of index status and the index handle
type Orchestrator struct {
	deps Deps
	opts Options
	log  *logger.Logger

	mu            sync.RWMutex
	status        model.Status
	idx           index.Index
	roomName      string
	maxRecordings int
	destroyed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator in the UNINITIALIZED state
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:          deps,
		opts:          opts,
		log:           deps.Log.With("component", "orchestrator"),
		status:        model.Status{State: model.StateUninitialized, Message: "The store is uninitialized"},
		roomName:      opts.RoomName,
		maxRecordings: opts.MaxRecordings,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Status returns a copy of the current status
func (o *Orchestrator) Status() model.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Ready reports whether an index handle is loaded
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.idx != nil
}

// DailyEnabled reports whether the cloud recording source is available
func (o *Orchestrator) DailyEnabled() bool {
	return o.deps.Daily != nil
}

// TranscriberName identifies the active transcription backend
func (o *Orchestrator) TranscriberName() string {
	return o.deps.Transcriber.Name()
}

func (o *Orchestrator) setStatus(state model.State, message string) {
	o.mu.Lock()
	o.status = model.Status{State: state, Message: message}
	o.mu.Unlock()
	o.log.WithField("state", state).Debug(message)
}

// Load opens a persisted index if one exists.
// It ends READY when one was found and UNINITIALIZED otherwise.
// A run already in flight wins and Load reports false without touching the status.
func (o *Orchestrator) Load(ctx context.Context) bool {
	o.mu.Lock()
	if o.status.State.Busy() {
		state := o.status.State
		o.mu.Unlock()
		o.log.WithField("state", state).Debug("operation in progress; not loading index")
		return false
	}
	o.status = model.Status{State: model.StateLoading, Message: "Loading index"}
	o.mu.Unlock()

	idx, err := o.deps.Engine.Load(ctx, o.opts.IndexDir)
	if err == nil {
		o.mu.Lock()
		o.idx = idx
		o.status = model.Status{State: model.StateReady, Message: "Index loaded and ready to query"}
		o.mu.Unlock()
		o.log.Info("existing index loaded")
		return true
	}

	if index.IsNotFound(err) {
		o.log.Info("existing index not found; store will not be loaded")
	} else {
		o.log.WithError(err).Warn("failed to load index")
	}
	o.setStatus(model.StateUninitialized, "The store is uninitialized")
	return false
}

// TryStart launches InitializeOrUpdate in the background unless a run is already in flight
func (o *Orchestrator) TryStart(req IngestRequest) error {
	if _, err := model.ParseSource(string(req.Source)); err != nil {
		return errors.New(errors.CodeInvalidArg, err.Error())
	}
	if req.Source == model.SourceDaily && o.deps.Daily == nil {
		return errors.New(errors.CodeConfiguration, "Daily API key not configured in server environment")
	}

	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return errors.New(errors.CodeCancelled, "orchestrator has been shut down")
	}
	if o.status.State.Busy() {
		state := o.status.State
		o.mu.Unlock()
		return errors.New(errors.CodeConflict, fmt.Sprintf("an indexing operation is already in progress (%s)", state))
	}
	// claim the slot before the goroutine runs so a second caller sees busy
	o.status = pendingStatus(o.idx == nil)
	o.mu.Unlock()

	go o.InitializeOrUpdate(o.ctx, req)
	return nil
}

func pendingStatus(creating bool) model.Status {
	if creating {
		return model.Status{State: model.StateCreating, Message: "Creating index"}
	}
	return model.Status{State: model.StateUpdating, Message: "Updating index"}
}

// InitializeOrUpdate runs one ingestion batch and then builds or persists the index.
// It never fails: every path ends in READY or ERROR, and the resulting status is returned.
func (o *Orchestrator) InitializeOrUpdate(ctx context.Context, req IngestRequest) model.Status {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	o.mu.Lock()
	if req.RoomName != "" {
		o.roomName = req.RoomName
	}
	if req.MaxRecordings > 0 {
		o.maxRecordings = req.MaxRecordings
	}
	room, limit := o.roomName, o.maxRecordings
	current := o.idx
	creating := current == nil
	o.status = pendingStatus(creating)
	o.mu.Unlock()

	run := &model.Run{
		ID:        uuid.NewString(),
		Source:    req.Source,
		State:     pendingStatus(creating).State,
		StartedAt: time.Now().UTC(),
	}
	log := o.log.With("run_id", run.ID).With("source", req.Source)
	log.Info("ingestion started")
	o.recordStart(ctx, run, log)

	report, err := o.ingest(ctx, req.Source, room, limit, current, log)

	var built index.Index
	if err == nil && creating {
		built, err = o.build(ctx)
	}
	if err == nil {
		target := current
		if built != nil {
			target = built
		}
		if perr := target.Persist(ctx, o.opts.IndexDir); perr != nil {
			err = errors.Wrap(perr, errors.CodeIndex, "failed to persist index")
		}
	}

	var final model.Status
	if err != nil {
		if built != nil {
			built.Close()
		}
		verb := "update"
		if creating {
			verb = "create"
		}
		final = model.Status{State: model.StateError, Message: fmt.Sprintf("Failed to %s index: %v", verb, err)}
		o.mu.Lock()
		o.status = final
		o.mu.Unlock()
		log.WithError(err).Error(final.Message)
	} else {
		final = model.Status{State: model.StateReady, Message: fmt.Sprintf("Index ready to query (%s)", report)}
		o.mu.Lock()
		if built != nil {
			o.idx = built
		}
		o.status = final
		o.mu.Unlock()
		log.WithField("indexed", report.Indexed).Info(final.Message)
	}

	run.State = final.State
	run.Message = final.Message
	run.Processed = report.Processed
	run.Skipped = report.Skipped
	run.Failed = report.Failed + report.TooLarge
	o.recordFinish(ctx, run, log)
	return final
}

// ingest runs the source pipeline. The returned error is batch-fatal; item failures are in the report.
func (o *Orchestrator) ingest(ctx context.Context, source model.Source, room string, limit int, idx index.Index, log *logger.Logger) (model.BatchReport, error) {
	report := model.BatchReport{Source: source}

	var jobs []itemJob
	switch source {
	case model.SourceDaily:
		if o.deps.Daily == nil {
			return report, errors.New(errors.CodeConfiguration, "Daily API key not configured in server environment")
		}
		recordings, err := o.deps.Daily.ListRecordings(ctx, room, limit)
		if err != nil {
			return report, err
		}
		for _, rec := range recordings {
			jobs = append(jobs, o.recordingJob(rec, room))
		}
	case model.SourceUploads:
		uploads, err := o.deps.Uploads.Scan(ctx)
		if err != nil {
			return report, err
		}
		for _, up := range uploads {
			jobs = append(jobs, o.uploadJob(up))
		}
	default:
		_, err := model.ParseSource(string(source))
		return report, errors.New(errors.CodeInvalidArg, err.Error())
	}

	log.WithField("items", len(jobs)).Info("dispatching batch")
	report = o.runBatch(ctx, source, jobs, idx, log)

	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, errors.CodeCancelled, "ingestion cancelled")
	}
	return report, nil
}

// build creates the index from every stored transcript
func (o *Orchestrator) build(ctx context.Context) (index.Index, error) {
	docs, err := o.deps.Store.Documents()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to read transcripts")
	}
	idx, err := o.deps.Engine.BuildFromDocuments(ctx, docs, o.opts.IndexDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to build index")
	}
	return idx, nil
}

// Query answers text from the loaded index
func (o *Orchestrator) Query(ctx context.Context, text string) (model.Answer, error) {
	o.mu.RLock()
	idx := o.idx
	o.mu.RUnlock()
	if idx == nil {
		return model.Answer{}, ErrNotReady
	}
	return idx.Query(ctx, text)
}

// Destroy cancels all outstanding work and returns immediately.
// Queued items are abandoned and in-flight jobs see a cancelled context.
func (o *Orchestrator) Destroy() {
	o.mu.Lock()
	o.destroyed = true
	o.mu.Unlock()
	o.cancel()
}

// Close destroys the orchestrator and closes the index
func (o *Orchestrator) Close() error {
	o.Destroy()
	o.mu.Lock()
	idx := o.idx
	o.idx = nil
	o.mu.Unlock()
	if idx == nil {
		return nil
	}
	return idx.Close()
}

func (o *Orchestrator) recordStart(ctx context.Context, run *model.Run, log *logger.Logger) {
	if o.deps.Runs == nil {
		return
	}
	if err := o.deps.Runs.Start(ctx, run); err != nil {
		log.WithError(err).Warn("failed to record run start")
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, run *model.Run, log *logger.Logger) {
	if o.deps.Runs == nil {
		return
	}
	now := time.Now().UTC()
	run.FinishedAt = &now

	// the run context may already be cancelled; the ledger entry should still land
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.deps.Runs.Finish(ctx, run); err != nil {
		log.WithError(err).Warn("failed to record run finish")
	}
}
