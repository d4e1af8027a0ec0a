package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/repository/transcript"
	"github.com/Taichi-iskw/transcript-index/internal/service/media"
)

// safeBuffer is a bytes.Buffer usable from concurrent loggers
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	t           *testing.T
	uploadsDir  string
	indexDir    string
	scratchDir  string
	store       *transcript.Store
	engine      *fakeEngine
	source      *mockSource
	transcriber *mockTranscriber
	extractor   *mockExtractor
	logs        *safeBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("LOG_LEVEL", "debug")
	root := t.TempDir()
	f := &fixture{
		t:           t,
		uploadsDir:  filepath.Join(root, "uploads"),
		indexDir:    filepath.Join(root, "index"),
		scratchDir:  filepath.Join(root, "recordings"),
		store:       transcript.NewStore(filepath.Join(root, "transcripts")),
		engine:      &fakeEngine{},
		source:      new(mockSource),
		transcriber: new(mockTranscriber),
		extractor:   new(mockExtractor),
		logs:        &safeBuffer{},
	}
	for _, dir := range []string{f.uploadsDir, f.indexDir, f.scratchDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	return f
}

func (f *fixture) orchestrator(opts ...func(*Deps, *Options)) *Orchestrator {
	deps := Deps{
		Store:       f.store,
		Engine:      f.engine,
		Transcriber: f.transcriber,
		Extractor:   f.extractor,
		Uploads:     media.NewScanner(f.uploadsDir, time.Millisecond, nil),
		Daily:       f.source,
		Log:         logger.NewWithOutput(f.logs),
	}
	options := Options{
		IndexDir:      f.indexDir,
		ScratchDir:    f.scratchDir,
		RoomName:      "all-hands",
		MaxRecordings: 13,
	}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	o := New(deps, options)
	f.t.Cleanup(func() { o.Close() })
	return o
}

// readyOrchestrator returns an orchestrator that loaded an existing index
func (f *fixture) readyOrchestrator(opts ...func(*Deps, *Options)) (*Orchestrator, *fakeIndex) {
	idx := newFakeIndex()
	f.engine.existing = idx
	o := f.orchestrator(opts...)
	require.True(f.t, o.Load(context.Background()))
	return o, idx
}

func (f *fixture) upload(name string) string {
	path := filepath.Join(f.uploadsDir, name)
	require.NoError(f.t, os.WriteFile(path, []byte("video-"+name), 0644))
	return path
}

func (f *fixture) transcriptCount() int {
	keys, err := f.store.List()
	require.NoError(f.t, err)
	return len(keys)
}

func recording(id string, day int) model.Recording {
	return model.Recording{
		ID:          id,
		RoomName:    "all-hands",
		CompletedAt: time.Date(2024, 1, day, 17, 0, 0, 0, time.UTC),
	}
}

func TestLoad(t *testing.T) {
	t.Run("existing index", func(t *testing.T) {
		f := newFixture(t)
		o, _ := f.readyOrchestrator()
		assert.True(t, o.Ready())
		assert.Equal(t, model.StateReady, o.Status().State)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		o := f.orchestrator()
		assert.False(t, o.Load(context.Background()))
		assert.False(t, o.Ready())
		assert.Equal(t, model.StateUninitialized, o.Status().State)
	})

	t.Run("load error", func(t *testing.T) {
		f := newFixture(t)
		f.engine.loadErr = fmt.Errorf("corrupt index")
		o := f.orchestrator()
		assert.False(t, o.Load(context.Background()))
		assert.Equal(t, model.StateUninitialized, o.Status().State)
		assert.Contains(t, f.logs.String(), "corrupt index")
	})
}

func TestQuery_NotReady(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := o.Query(context.Background(), "what happened?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeNotReady))
	assert.Equal(t, ErrNotReady, err)

	// still not ready after a failed load
	f.engine.loadErr = fmt.Errorf("boom")
	o.Load(context.Background())
	_, err = o.Query(context.Background(), "again")
	assert.True(t, errors.Is(err, errors.CodeNotReady))
}

func TestQuery_Ready(t *testing.T) {
	f := newFixture(t)
	o, _ := f.readyOrchestrator()

	answer, err := o.Query(context.Background(), "roadmap")
	require.NoError(t, err)
	assert.Equal(t, "echo: roadmap", answer.Text)
}

func TestUploads_Idempotency(t *testing.T) {
	f := newFixture(t)
	video := f.upload("weekly.mp4")
	require.NoError(t, f.store.Save("weekly", "already transcribed"))
	o, idx := f.readyOrchestrator()

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	f.extractor.AssertNotCalled(t, "ExtractAudio", mock.Anything, mock.Anything)
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
	assert.NoFileExists(t, video, "redundant upload is removed")
	assert.Equal(t, 0, idx.insertCount())
}

func TestUploads_TwoCachedOneNew(t *testing.T) {
	f := newFixture(t)
	f.upload("a.mp4")
	f.upload("b.mov")
	newVideo := f.upload("c.mp4")
	require.NoError(t, f.store.Save("a", "transcript a"))
	require.NoError(t, f.store.Save("b", "transcript b"))
	o, idx := f.readyOrchestrator()

	f.extractor.On("ExtractAudio", mock.Anything, newVideo).Return("", nil).Once()
	f.transcriber.On("Transcribe", mock.Anything, "", media.AudioPath(newVideo)).Return("transcript c", nil).Once()

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	assert.Contains(t, status.Message, "1 processed, 2 skipped")
	assert.Equal(t, 3, f.transcriptCount())
	assert.Equal(t, 1, idx.insertCount())
	assert.Equal(t, "transcript c", idx.docs["c"].Text)
	assert.Equal(t, "uploads", idx.docs["c"].Metadata["source"])
	assert.NoFileExists(t, newVideo)
	assert.NoFileExists(t, media.AudioPath(newVideo))
	assert.Equal(t, 1, idx.persists)
	f.extractor.AssertExpectations(t)
	f.transcriber.AssertExpectations(t)
}

func TestUploads_InsertedIDMatchesBulkBuild(t *testing.T) {
	f := newFixture(t)
	video := f.upload("Team Sync.mp4")
	o, idx := f.readyOrchestrator()

	f.extractor.On("ExtractAudio", mock.Anything, video).Return("", nil).Once()
	f.transcriber.On("Transcribe", mock.Anything, "", media.AudioPath(video)).Return("sync notes", nil).Once()

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})
	require.Equal(t, model.StateReady, status.State)

	docs, err := f.store.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)

	inserted, ok := idx.docs[docs[0].ID]
	require.True(t, ok, "inserted id %q should match stored id", docs[0].ID)
	assert.Equal(t, "Team-Sync", inserted.ID)
	assert.Equal(t, docs[0].Metadata["file_name"], inserted.Metadata["file_name"])
}

func TestUploads_RerunIsNoop(t *testing.T) {
	f := newFixture(t)
	video := f.upload("retro.mp4")
	o, idx := f.readyOrchestrator()

	f.extractor.On("ExtractAudio", mock.Anything, video).Return("", nil).Once()
	f.transcriber.On("Transcribe", mock.Anything, "", mock.Anything).Return("retro notes", nil).Once()

	first := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})
	require.Equal(t, model.StateReady, first.State)
	require.Equal(t, 1, f.transcriptCount())
	require.Equal(t, 1, idx.insertCount())

	second := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})
	assert.Equal(t, model.StateReady, second.State)
	assert.Equal(t, 1, f.transcriptCount())
	assert.Equal(t, 1, idx.insertCount())
	f.extractor.AssertNumberOfCalls(t, "ExtractAudio", 1)
	f.transcriber.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestUploads_TranscriptionFailureKeepsVideo(t *testing.T) {
	f := newFixture(t)
	video := f.upload("broken.mp4")
	o, idx := f.readyOrchestrator()

	f.extractor.On("ExtractAudio", mock.Anything, video).Return("", nil)
	f.transcriber.On("Transcribe", mock.Anything, "", mock.Anything).Return("", fmt.Errorf("model crashed"))

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	assert.Contains(t, status.Message, "1 failed")
	assert.FileExists(t, video)
	assert.NoFileExists(t, media.AudioPath(video), "extracted audio is always cleaned up")
	assert.Equal(t, 0, f.transcriptCount())
	assert.Equal(t, 0, idx.insertCount())
}

func TestDaily_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	o, idx := f.readyOrchestrator()
	recs := []model.Recording{recording("r1", 5), recording("r2", 12), recording("r3", 19)}

	f.source.On("ListRecordings", mock.Anything, "all-hands", 13).Return(recs, nil)
	for _, r := range recs {
		f.source.On("GetAccessLink", mock.Anything, r.ID).Return("https://cdn.example.com/"+r.ID, nil)
	}
	f.transcriber.On("Transcribe", mock.Anything, "https://cdn.example.com/r1", "").Return("one", nil)
	f.transcriber.On("Transcribe", mock.Anything, "https://cdn.example.com/r2", "").Return("", fmt.Errorf("connection reset"))
	f.transcriber.On("Transcribe", mock.Anything, "https://cdn.example.com/r3", "").Return("three", nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	assert.Equal(t, 2, f.transcriptCount())
	assert.Equal(t, 2, idx.insertCount())

	exists, err := f.store.Exists(recs[1].Key())
	require.NoError(t, err)
	assert.False(t, exists)
	_, indexed := idx.docs[recs[1].Key()]
	assert.False(t, indexed)
	f.extractor.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
}

func TestDaily_PayloadTooLarge(t *testing.T) {
	f := newFixture(t)
	o, idx := f.readyOrchestrator()
	recs := []model.Recording{recording("r1", 5), recording("r2", 12), recording("r3", 19)}

	f.source.On("ListRecordings", mock.Anything, "all-hands", 13).Return(recs, nil)
	f.source.On("GetAccessLink", mock.Anything, mock.Anything).Return("https://cdn.example.com/link", nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return("text", nil).Twice()
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New(errors.CodePayloadTooLarge, "request entity too large")).Once()

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	assert.Contains(t, status.Message, "1 too large")
	assert.Equal(t, 2, f.transcriptCount())
	assert.Equal(t, 2, idx.insertCount())
	assert.Contains(t, f.logs.String(), "reason=payload_too_large")
	assert.Contains(t, f.logs.String(), "level=warning")
}

func TestDaily_LocalAudio(t *testing.T) {
	f := newFixture(t)
	f.transcriber.local = true
	o, _ := f.readyOrchestrator()
	rec := recording("r1", 5)
	key := rec.Key()
	videoPath := filepath.Join(f.scratchDir, key+".mp4")
	audioPath := filepath.Join(f.scratchDir, key+".wav")

	f.source.On("ListRecordings", mock.Anything, "all-hands", 13).Return([]model.Recording{rec}, nil)
	f.source.On("GetAccessLink", mock.Anything, "r1").Return("https://cdn.example.com/r1", nil)
	f.extractor.On("Download", mock.Anything, "https://cdn.example.com/r1", videoPath).Return("", nil)
	f.extractor.On("ExtractAudio", mock.Anything, videoPath).Return("", nil)
	f.transcriber.On("Transcribe", mock.Anything, "https://cdn.example.com/r1", audioPath).Return("local text", nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	assert.Equal(t, 1, f.transcriptCount())
	entries, err := os.ReadDir(f.scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files are removed")
	f.extractor.AssertExpectations(t)
}

func TestDaily_LocalAudioReusedAndCleanedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.transcriber.local = true
	o, _ := f.readyOrchestrator()
	rec := recording("r1", 5)
	audioPath := filepath.Join(f.scratchDir, rec.Key()+".wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("cached wav"), 0644))

	f.source.On("ListRecordings", mock.Anything, "all-hands", 13).Return([]model.Recording{rec}, nil)
	f.source.On("GetAccessLink", mock.Anything, "r1").Return("https://cdn.example.com/r1", nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, audioPath).Return("", fmt.Errorf("whisper crashed"))

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	f.extractor.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	assert.NoFileExists(t, audioPath, "scratch audio is released on failure")
	assert.Equal(t, 0, f.transcriptCount())
}

func TestDaily_RoomSafetyRail(t *testing.T) {
	f := newFixture(t)
	o, _ := f.readyOrchestrator()
	other := recording("r9", 5)
	other.RoomName = "random"

	f.source.On("ListRecordings", mock.Anything, "all-hands", 13).Return([]model.Recording{other}, nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	assert.Contains(t, status.Message, "1 skipped")
	f.source.AssertNotCalled(t, "GetAccessLink", mock.Anything, mock.Anything)
}

func TestDaily_RequestOverridesPersist(t *testing.T) {
	f := newFixture(t)
	o, _ := f.readyOrchestrator()

	f.source.On("ListRecordings", mock.Anything, "design-review", 2).Return([]model.Recording{}, nil).Twice()

	o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily, RoomName: "design-review", MaxRecordings: 2})
	o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})
	f.source.AssertExpectations(t)
}

func TestCreating_BulkBuildsFromAllTranscripts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save("old", "from an earlier run"))
	video := f.upload("fresh.mp4")
	o := f.orchestrator()
	require.False(t, o.Load(context.Background()))

	f.extractor.On("ExtractAudio", mock.Anything, video).Return("", nil)
	f.transcriber.On("Transcribe", mock.Anything, "", mock.Anything).Return("fresh text", nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	assert.True(t, o.Ready())
	require.NotNil(t, f.engine.built)
	assert.Len(t, f.engine.buildDocs, 2)
	assert.Equal(t, 0, f.engine.built.insertCount(), "bulk build path does not insert")
	assert.Equal(t, 1, f.engine.built.persists)
}

func TestCreating_EmptyCorpusIsQueryable(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	require.False(t, o.Load(context.Background()))

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	require.NotNil(t, f.engine.built)
	assert.Empty(t, f.engine.buildDocs)
	assert.Equal(t, 1, f.engine.built.persists)
	assert.True(t, o.Ready())
}

func TestStateTotality(t *testing.T) {
	tests := []struct {
		name      string
		ready     bool
		setup     func(*fixture, *fakeIndex)
		wantMsg   string
		wantReady bool
	}{
		{
			name:  "listing failure while updating",
			ready: true,
			setup: func(f *fixture, _ *fakeIndex) {
				f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New(errors.CodeExternal, "daily unavailable"))
			},
			wantMsg:   "Failed to update index",
			wantReady: true,
		},
		{
			name:  "persist failure while updating",
			ready: true,
			setup: func(f *fixture, idx *fakeIndex) {
				f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return([]model.Recording{}, nil)
				idx.persistErr = fmt.Errorf("disk full")
			},
			wantMsg:   "Failed to update index",
			wantReady: true,
		},
		{
			name: "bulk build failure while creating",
			setup: func(f *fixture, _ *fakeIndex) {
				f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return([]model.Recording{}, nil)
				f.engine.buildErr = fmt.Errorf("embedding model missing")
			},
			wantMsg: "Failed to create index",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var o *Orchestrator
			var idx *fakeIndex
			if tt.ready {
				o, idx = f.readyOrchestrator()
			} else {
				o = f.orchestrator()
			}
			tt.setup(f, idx)

			status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

			assert.Equal(t, model.StateError, status.State)
			assert.Contains(t, status.Message, tt.wantMsg)
			assert.Equal(t, status, o.Status())
			assert.Equal(t, tt.wantReady, o.Ready(), "index handle is left as it was")
		})
	}
}

func TestErrorIsNotTerminal(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	f.engine.buildErr = fmt.Errorf("transient")

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})
	require.Equal(t, model.StateError, status.State)

	f.engine.buildErr = nil
	status = o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})
	assert.Equal(t, model.StateReady, status.State)
	assert.True(t, o.Ready())
}

func TestUnknownSourceEndsInError(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: "dropbox"})
	assert.Equal(t, model.StateError, status.State)
	assert.Contains(t, status.Message, "unrecognized source")
}

func TestBoundedConcurrencyAndSerializedInserts(t *testing.T) {
	f := newFixture(t)
	o, idx := f.readyOrchestrator(func(_ *Deps, opts *Options) { opts.Workers = 2 })

	var recs []model.Recording
	for i := 1; i <= 8; i++ {
		recs = append(recs, recording(fmt.Sprintf("r%d", i), i))
	}
	f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return(recs, nil)
	f.source.On("GetAccessLink", mock.Anything, mock.Anything).Return("https://cdn.example.com/x", nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return("text", nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State)
	assert.Equal(t, 8, idx.insertCount())
	assert.LessOrEqual(t, f.transcriber.maxActive, int32(2))
	assert.Equal(t, int32(1), idx.maxActive, "inserts go through a single writer")
}

func TestInsertFailureIsItemFailure(t *testing.T) {
	f := newFixture(t)
	video := f.upload("x.mp4")
	o, idx := f.readyOrchestrator()
	idx.insertErr["x"] = fmt.Errorf("index locked")

	f.extractor.On("ExtractAudio", mock.Anything, video).Return("", nil)
	f.transcriber.On("Transcribe", mock.Anything, "", mock.Anything).Return("x text", nil)

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceUploads})

	assert.Equal(t, model.StateReady, status.State)
	assert.Contains(t, status.Message, "1 failed")
	assert.Equal(t, 1, f.transcriptCount(), "transcript stays for the next bulk build")
	assert.NoFileExists(t, video)
}

func TestRunLedger(t *testing.T) {
	f := newFixture(t)
	recorder := new(mockRecorder)
	o, _ := f.readyOrchestrator(func(deps *Deps, _ *Options) { deps.Runs = recorder })

	f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return([]model.Recording{recording("r1", 5)}, nil)
	f.source.On("GetAccessLink", mock.Anything, "r1").Return("https://cdn.example.com/r1", nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return("text", nil)

	recorder.On("Start", mock.Anything, mock.MatchedBy(func(run *model.Run) bool {
		return run.ID != "" && run.Source == model.SourceDaily
	})).Return(nil)
	recorder.On("Finish", mock.Anything, mock.MatchedBy(func(run *model.Run) bool {
		return run.State == model.StateReady && run.Processed == 1 && run.FinishedAt != nil
	})).Return(fmt.Errorf("ledger down"))

	status := o.InitializeOrUpdate(context.Background(), IngestRequest{Source: model.SourceDaily})

	assert.Equal(t, model.StateReady, status.State, "ledger errors are never fatal")
	recorder.AssertExpectations(t)
}

// blockingTranscriber holds every call until its context is cancelled
type blockingTranscriber struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingTranscriber) Name() string             { return "blocking" }
func (b *blockingTranscriber) RequiresLocalAudio() bool { return false }
func (b *blockingTranscriber) Transcribe(ctx context.Context, recordingURL, audioPath string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTryStart(t *testing.T) {
	f := newFixture(t)
	blocker := &blockingTranscriber{started: make(chan struct{})}
	o, _ := f.readyOrchestrator(func(deps *Deps, _ *Options) { deps.Transcriber = blocker })

	f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return([]model.Recording{recording("r1", 5)}, nil)
	f.source.On("GetAccessLink", mock.Anything, mock.Anything).Return("https://cdn.example.com/r1", nil)

	require.NoError(t, o.TryStart(IngestRequest{Source: model.SourceDaily}))
	assert.Equal(t, model.StateUpdating, o.Status().State)

	err := o.TryStart(IngestRequest{Source: model.SourceUploads})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeConflict))

	// a late Load must not clobber the in-flight run
	assert.False(t, o.Load(context.Background()))
	assert.Equal(t, model.StateUpdating, o.Status().State)

	<-blocker.started
	o.Destroy()
	assert.Eventually(t, func() bool { return o.Status().State == model.StateError }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, o.Status().Message, "cancelled")

	err = o.TryStart(IngestRequest{Source: model.SourceUploads})
	assert.True(t, errors.Is(err, errors.CodeCancelled))
}

func TestTryStart_Validation(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(func(deps *Deps, _ *Options) { deps.Daily = nil })

	err := o.TryStart(IngestRequest{Source: "dropbox"})
	assert.True(t, errors.Is(err, errors.CodeInvalidArg))

	err = o.TryStart(IngestRequest{Source: model.SourceDaily})
	assert.True(t, errors.Is(err, errors.CodeConfiguration))
	assert.False(t, o.DailyEnabled())
	assert.Equal(t, model.StateUninitialized, o.Status().State)
}

func TestDestroyDoesNotWait(t *testing.T) {
	f := newFixture(t)
	blocker := &blockingTranscriber{started: make(chan struct{})}
	o, _ := f.readyOrchestrator(func(deps *Deps, _ *Options) { deps.Transcriber = blocker })

	var recs []model.Recording
	for i := 1; i <= 20; i++ {
		recs = append(recs, recording(fmt.Sprintf("r%d", i), i))
	}
	f.source.On("ListRecordings", mock.Anything, mock.Anything, mock.Anything).Return(recs, nil)
	f.source.On("GetAccessLink", mock.Anything, mock.Anything).Return("https://cdn.example.com/x", nil)

	require.NoError(t, o.TryStart(IngestRequest{Source: model.SourceDaily}))
	<-blocker.started

	done := make(chan struct{})
	go func() {
		o.Destroy()
		_ = o.Status()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Destroy or Status blocked on in-flight work")
	}

	assert.Eventually(t, func() bool { return !o.Status().State.Busy() }, 2*time.Second, 10*time.Millisecond)
	// only the jobs already running when Destroy hit reach the source
	calls := 0
	for _, c := range f.source.Calls {
		if c.Method == "GetAccessLink" {
			calls++
		}
	}
	assert.LessOrEqual(t, calls, DefaultWorkers)
}
