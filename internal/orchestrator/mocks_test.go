package orchestrator

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Taichi-iskw/transcript-index/internal/index"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/service/media"
)

// mockSource for testing
type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListRecordings(ctx context.Context, room string, limit int) ([]model.Recording, error) {
	args := m.Called(ctx, room, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Recording), args.Error(1)
}

func (m *mockSource) GetAccessLink(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// mockTranscriber for testing
type mockTranscriber struct {
	mock.Mock
	local bool

	active    int32
	maxActive int32
}

func (m *mockTranscriber) Name() string { return "mock" }

func (m *mockTranscriber) RequiresLocalAudio() bool { return m.local }

func (m *mockTranscriber) Transcribe(ctx context.Context, recordingURL, audioPath string) (string, error) {
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		max := atomic.LoadInt32(&m.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxActive, max, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	args := m.Called(ctx, recordingURL, audioPath)
	return args.String(0), args.Error(1)
}

// mockExtractor for testing; successful calls create the files they report
type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Download(ctx context.Context, url, destPath string) (string, error) {
	args := m.Called(ctx, url, destPath)
	if err := args.Error(1); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, []byte("video"), 0644); err != nil {
		return "", err
	}
	return destPath, nil
}

func (m *mockExtractor) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	args := m.Called(ctx, videoPath)
	if err := args.Error(1); err != nil {
		return "", err
	}
	audio := media.AudioPath(videoPath)
	if err := os.WriteFile(audio, []byte("wav"), 0644); err != nil {
		return "", err
	}
	return audio, nil
}

// mockRecorder for testing
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Start(ctx context.Context, run *model.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockRecorder) Finish(ctx context.Context, run *model.Run) error {
	return m.Called(ctx, run).Error(0)
}

// fakeIndex is an in-memory index that tracks insert concurrency
type fakeIndex struct {
	mu         sync.Mutex
	docs       map[string]model.Document
	inserts    int
	persists   int
	persistErr error
	insertErr  map[string]error
	closed     bool

	active    int32
	maxActive int32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]model.Document{}, insertErr: map[string]error{}}
}

func (f *fakeIndex) Insert(ctx context.Context, doc model.Document) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	if n > atomic.LoadInt32(&f.maxActive) {
		atomic.StoreInt32(&f.maxActive, n)
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertErr[doc.ID]; err != nil {
		return err
	}
	f.docs[doc.ID] = doc
	f.inserts++
	return nil
}

func (f *fakeIndex) Persist(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persists++
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, text string) (model.Answer, error) {
	return model.Answer{Text: "echo: " + text}, nil
}

func (f *fakeIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeIndex) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

// fakeEngine hands out fakeIndexes
type fakeEngine struct {
	mu        sync.Mutex
	existing  *fakeIndex
	loadErr   error
	buildErr  error
	built     *fakeIndex
	buildDocs []model.Document
}

func (e *fakeEngine) Load(ctx context.Context, dir string) (index.Index, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	if e.existing == nil {
		return nil, index.ErrNotFound
	}
	return e.existing, nil
}

func (e *fakeEngine) BuildFromDocuments(ctx context.Context, docs []model.Document, dir string) (index.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	e.buildDocs = docs
	e.built = newFakeIndex()
	for _, d := range docs {
		e.built.docs[d.ID] = d
	}
	return e.built, nil
}
