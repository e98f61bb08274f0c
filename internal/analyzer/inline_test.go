package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docanalyzer/internal/pipeline"
)

type memStore struct {
	mu          sync.Mutex
	status      map[string]string
	results     map[string]string
	errs        map[string]string
	failMark    bool
	transitions []string
}

func newMemStore() *memStore {
	return &memStore{
		status:  make(map[string]string),
		results: make(map[string]string),
		errs:    make(map[string]string),
	}
}

func (m *memStore) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("db unavailable")
	}
	m.status[id] = "PROCESSING"
	m.transitions = append(m.transitions, "PROCESSING")
	return nil
}

func (m *memStore) MarkCompleted(_ context.Context, id, result string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = "COMPLETED"
	m.results[id] = result
	m.transitions = append(m.transitions, "COMPLETED")
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, errMsg string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = "FAILED"
	m.errs[id] = errMsg
	m.transitions = append(m.transitions, "FAILED")
	return nil
}

func (m *memStore) snapshot(id string) (status, result, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[id], m.results[id], m.errs[id]
}

func newInline(store *memStore, an *fakeAnalyzer, ext *fakeExtractor) *InlineExecutor {
	factory := func() (pipeline.Analyzer, error) { return an, nil }
	orch := NewOrchestrator(ext, factory, slog.New(slog.DiscardHandler))
	return NewInlineExecutor(store, orch, slog.New(slog.DiscardHandler))
}

func TestInlineExecutor_Execute_Success(t *testing.T) {
	store := newMemStore()
	exec := newInline(store, &fakeAnalyzer{report: "full report"}, &fakeExtractor{text: "doc"})

	result, err := exec.Execute(context.Background(), Input{AnalysisID: "a1", Query: "q", ArtifactPath: "p"})

	require.NoError(t, err)
	assert.Equal(t, "full report", result)

	status, res, errMsg := store.snapshot("a1")
	assert.Equal(t, "COMPLETED", status)
	assert.Equal(t, "full report", res)
	assert.Empty(t, errMsg)
	assert.Equal(t, []string{"PROCESSING", "COMPLETED"}, store.transitions)
}

func TestInlineExecutor_Execute_Failure(t *testing.T) {
	store := newMemStore()
	exec := newInline(store, &fakeAnalyzer{err: errors.New("model down")}, &fakeExtractor{text: "doc"})

	result, err := exec.Execute(context.Background(), Input{AnalysisID: "a1", ArtifactPath: "p"})

	require.Error(t, err)
	assert.Empty(t, result)

	status, res, errMsg := store.snapshot("a1")
	assert.Equal(t, "FAILED", status)
	assert.Empty(t, res)
	assert.Contains(t, errMsg, "model down")
}

func TestInlineExecutor_Execute_TerminalEvenOnPanic(t *testing.T) {
	store := newMemStore()
	exec := newInline(store, &fakeAnalyzer{panics: true}, &fakeExtractor{text: "doc"})

	_, err := exec.Execute(context.Background(), Input{AnalysisID: "a1", ArtifactPath: "p"})

	require.Error(t, err)
	status, _, errMsg := store.snapshot("a1")
	assert.Equal(t, "FAILED", status)
	assert.Contains(t, errMsg, "aborted unexpectedly")
}

func TestInlineExecutor_Execute_ProcessingTransitionFails(t *testing.T) {
	store := newMemStore()
	store.failMark = true
	exec := newInline(store, &fakeAnalyzer{report: "r"}, &fakeExtractor{text: "doc"})

	_, err := exec.Execute(context.Background(), Input{AnalysisID: "a1", ArtifactPath: "p"})

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to start analysis")
}

func TestInlineExecutor_Execute_CallerGoneStillTerminal(t *testing.T) {
	store := newMemStore()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := &blockingAnalyzer{started: started, release: release, report: "late report"}

	factory := func() (pipeline.Analyzer, error) { return slow, nil }
	orch := NewOrchestrator(&fakeExtractor{text: "doc"}, factory, slog.New(slog.DiscardHandler))
	exec := NewInlineExecutor(store, orch, slog.New(slog.DiscardHandler))

	var mu sync.Mutex
	var removed []string
	exec.removeArtifact = func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, path)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := exec.Execute(ctx, Input{AnalysisID: "a1", ArtifactPath: "p"})
	require.ErrorIs(t, err, context.Canceled)

	// The caller is gone but the run is still in flight: its document must
	// not be removed out from under it.
	mu.Lock()
	assert.Empty(t, removed)
	mu.Unlock()

	// Record is still mid-flight; let the run finish and verify the
	// terminal write happens without a caller.
	close(release)
	require.Eventually(t, func() bool {
		status, _, _ := store.snapshot("a1")
		return status == "COMPLETED"
	}, 2*time.Second, 10*time.Millisecond)

	_, result, _ := store.snapshot("a1")
	assert.Equal(t, "late report", result)

	// Cleanup happens only once the run is terminal.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1 && removed[0] == "p"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInlineExecutor_Execute_ArtifactRemovedAfterAttempt(t *testing.T) {
	store := newMemStore()
	exec := newInline(store, &fakeAnalyzer{report: "r"}, &fakeExtractor{text: "doc"})

	var mu sync.Mutex
	var removed []string
	exec.removeArtifact = func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, path)
		return nil
	}

	_, err := exec.Execute(context.Background(), Input{AnalysisID: "a1", ArtifactPath: "p"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1 && removed[0] == "p"
	}, 2*time.Second, 10*time.Millisecond)
}

type blockingAnalyzer struct {
	started chan struct{}
	release chan struct{}
	report  string
	once    sync.Once
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, query, content string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.report, nil
}
