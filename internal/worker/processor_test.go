package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/internal/analyzer"
	"github.com/finsight/docanalyzer/internal/extract"
)

type fakeSession struct {
	rec               *analysis.Record
	getErr            error
	markProcessingErr error
	markCompletedErr  error

	processingCalls int
	completedResult string
	failedMsg       string
	failedAt        time.Time
	closed          bool
}

func (f *fakeSession) Get(_ context.Context, id string) (*analysis.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rec, nil
}

func (f *fakeSession) MarkProcessing(_ context.Context, id string) error {
	if f.markProcessingErr != nil {
		return f.markProcessingErr
	}
	f.processingCalls++
	return nil
}

func (f *fakeSession) MarkCompleted(_ context.Context, id, result string, _ time.Time) error {
	if f.markCompletedErr != nil {
		return f.markCompletedErr
	}
	f.completedResult = result
	return nil
}

func (f *fakeSession) MarkFailed(_ context.Context, id, errMsg string, at time.Time) error {
	f.failedMsg = errMsg
	f.failedAt = at
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeRunner struct {
	result string
	err    error
	calls  int
	inputs []analyzer.Input
}

func (f *fakeRunner) Run(_ context.Context, in analyzer.Input) (string, error) {
	f.calls++
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

// deadlineSession rejects writes once the given context is done, the way
// a real database connection would.
type deadlineSession struct {
	*fakeSession
}

func (s *deadlineSession) MarkCompleted(ctx context.Context, id, result string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeSession.MarkCompleted(ctx, id, result, at)
}

func (s *deadlineSession) MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeSession.MarkFailed(ctx, id, errMsg, at)
}

// stallRunner blocks until the job context expires.
type stallRunner struct{}

func (r *stallRunner) Run(ctx context.Context, _ analyzer.Input) (string, error) {
	<-ctx.Done()
	return "", fmt.Errorf("analysis interrupted: %w", ctx.Err())
}

type pubRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (p *pubRecorder) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *pubRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

func (p *pubRecorder) body(i int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodies[i]
}

type fakeReports struct {
	written []string
	err     error
}

func (f *fakeReports) Write(analysisID, sourceName, query, result string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, analysisID)
	return "/outputs/" + analysisID + ".txt", nil
}

type testHarness struct {
	worker   *Worker
	pub      *pubRecorder
	reports  *fakeReports
	delays   []time.Duration
	fires    []chan time.Time
	removed  []string
	sessions int
}

func newHarness(sess session, run runner) *testHarness {
	h := &testHarness{pub: &pubRecorder{}, reports: &fakeReports{}}

	h.worker = &Worker{
		logger: slog.New(slog.DiscardHandler),
		sessions: func(ctx context.Context) (session, error) {
			h.sessions++
			return sess, nil
		},
		run:          run,
		publish:      h.pub,
		reports:      h.reports,
		maxRetries:   2,
		retryBackoff: 30 * time.Second,
		workerID:     "worker-test",
		schedule: func(d time.Duration) <-chan time.Time {
			h.delays = append(h.delays, d)
			ch := make(chan time.Time, 1)
			h.fires = append(h.fires, ch)
			return ch
		},
		removeArtifact: func(path string) error {
			h.removed = append(h.removed, path)
			return nil
		},
		stopChan: make(chan struct{}),
	}
	return h
}

// fire releases the i-th backoff timer handed out by the schedule seam.
func (h *testHarness) fire(i int) {
	h.fires[i] <- time.Time{}
}

func pendingRecord(id string) *analysis.Record {
	return &analysis.Record{
		ID:         id,
		SourceName: "report.pdf",
		Query:      "how is margin trending?",
		Status:     analysis.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func request(id string, attempt int) *message {
	return &message{
		req: analysis.Request{
			AnalysisID:   id,
			Query:        "how is margin trending?",
			ArtifactPath: "/data/doc.pdf",
			Attempt:      attempt,
		},
		deliveryTag: 7,
	}
}

func TestProcessDelivery_Success(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1")}
	run := &fakeRunner{result: "the report"}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.NoError(t, err)
	assert.Equal(t, 1, sess.processingCalls)
	assert.Equal(t, "the report", sess.completedResult)
	assert.Equal(t, 1, run.calls)
	assert.Equal(t, []string{"a1"}, h.reports.written)
	assert.Equal(t, []string{"/data/doc.pdf"}, h.removed)
	assert.True(t, sess.closed)
	assert.Empty(t, h.delays)
}

func TestProcessDelivery_RedeliveredCompletedIsNoOp(t *testing.T) {
	rec := pendingRecord("a1")
	rec.Status = analysis.StatusCompleted
	sess := &fakeSession{rec: rec}
	run := &fakeRunner{result: "should not run"}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.NoError(t, err)
	// Neither the pipeline nor any status transition runs again.
	assert.Equal(t, 0, run.calls)
	assert.Equal(t, 0, sess.processingCalls)
	assert.Empty(t, sess.completedResult)
	assert.True(t, sess.closed)
}

func TestProcessDelivery_RecordMissing(t *testing.T) {
	sess := &fakeSession{getErr: analysis.ErrNotFound}
	run := &fakeRunner{}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.Error(t, err)
	assert.ErrorIs(t, err, errRecordMissing)
	assert.False(t, shouldRequeue(err))
	assert.Equal(t, 0, run.calls)
	assert.True(t, sess.closed)
}

func TestProcessDelivery_TransientStoreFailureRequeues(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1"), markProcessingErr: errors.New("connection reset")}
	run := &fakeRunner{}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.Error(t, err)
	assert.True(t, shouldRequeue(err))
	assert.Equal(t, 0, run.calls)
	assert.True(t, sess.closed)
}

func TestProcessDelivery_PipelineFailureSchedulesRetry(t *testing.T) {
	tests := []struct {
		name      string
		attempt   int
		wantDelay time.Duration
	}{
		{
			name:      "first failure retries after 30s",
			attempt:   0,
			wantDelay: 30 * time.Second,
		},
		{
			name:      "second failure retries after 60s",
			attempt:   1,
			wantDelay: 60 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{rec: pendingRecord("a1")}
			run := &fakeRunner{err: errors.New("model timeout")}
			h := newHarness(sess, run)

			err := h.worker.processDelivery(context.Background(), request("a1", tt.attempt))

			require.NoError(t, err)

			// Failure is persisted immediately, before the retry fires.
			assert.Contains(t, sess.failedMsg, "model timeout")

			require.Len(t, h.delays, 1)
			assert.Equal(t, tt.wantDelay, h.delays[0])

			// The artifact survives for the next attempt.
			assert.Empty(t, h.removed)

			// Firing the timer publishes the incremented request.
			h.fire(0)
			require.Eventually(t, func() bool {
				return h.pub.count() == 1
			}, 2*time.Second, 5*time.Millisecond)

			var next analysis.Request
			require.NoError(t, json.Unmarshal(h.pub.body(0), &next))
			assert.Equal(t, "a1", next.AnalysisID)
			assert.Equal(t, tt.attempt+1, next.Attempt)
			assert.Equal(t, "/data/doc.pdf", next.ArtifactPath)
		})
	}
}

func TestProcessDelivery_RetriesExhausted(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1")}
	run := &fakeRunner{err: errors.New("model timeout")}
	h := newHarness(sess, run)

	// Attempt index 2 = third total attempt; retries are exhausted.
	err := h.worker.processDelivery(context.Background(), request("a1", 2))

	require.NoError(t, err)
	assert.Contains(t, sess.failedMsg, "model timeout")
	assert.Empty(t, h.delays)
	assert.Equal(t, 0, h.pub.count())
	assert.Equal(t, []string{"/data/doc.pdf"}, h.removed)
	assert.True(t, sess.closed)
}

func TestProcessJob_ExpiredDeadlineStillPersistsFailure(t *testing.T) {
	sess := &deadlineSession{fakeSession: &fakeSession{rec: pendingRecord("a1")}}
	h := newHarness(sess, &stallRunner{})
	h.worker.jobTimeout = 50 * time.Millisecond

	err := h.worker.processJob(context.Background(), request("a1", 0))

	require.NoError(t, err)
	// The expired job deadline bounds the run only; the FAILED outcome
	// still lands instead of leaving the record PROCESSING through the
	// backoff window.
	assert.Contains(t, sess.failedMsg, "deadline exceeded")
	require.Len(t, h.delays, 1)
	assert.Equal(t, 30*time.Second, h.delays[0])
}

func TestStop_FlushesPendingRetry(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1")}
	run := &fakeRunner{err: errors.New("model timeout")}
	h := newHarness(sess, run)

	require.NoError(t, h.worker.processDelivery(context.Background(), request("a1", 0)))
	require.Len(t, h.delays, 1)
	require.Equal(t, 0, h.pub.count())

	// The backoff timer never fires; a graceful stop hands the retry back
	// to the queue instead of dropping it with the process.
	h.worker.Stop()

	require.Equal(t, 1, h.pub.count())
	var next analysis.Request
	require.NoError(t, json.Unmarshal(h.pub.body(0), &next))
	assert.Equal(t, "a1", next.AnalysisID)
	assert.Equal(t, 1, next.Attempt)
}

func TestProcessDelivery_ExtractionFailureNeverRetried(t *testing.T) {
	extractionErr := &extract.ExtractionError{Path: "/data/doc.pdf", Err: errors.New("unreadable")}
	sess := &fakeSession{rec: pendingRecord("a1")}
	run := &fakeRunner{err: extractionErr}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.NoError(t, err)
	assert.Contains(t, sess.failedMsg, "unreadable")
	// Non-retriable even on the first attempt: the artifact will not change.
	assert.Empty(t, h.delays)
	assert.Equal(t, []string{"/data/doc.pdf"}, h.removed)
}

func TestProcessDelivery_PersistFailureAfterSuccessRequeues(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1"), markCompletedErr: errors.New("connection lost")}
	run := &fakeRunner{result: "the report"}
	h := newHarness(sess, run)

	err := h.worker.processDelivery(context.Background(), request("a1", 0))

	require.Error(t, err)
	assert.True(t, shouldRequeue(err))
	// No report file and no artifact cleanup for a non-durable outcome.
	assert.Empty(t, h.reports.written)
	assert.Empty(t, h.removed)
	assert.True(t, sess.closed)
}

func TestProcessDelivery_FreshSessionPerDelivery(t *testing.T) {
	sess := &fakeSession{rec: pendingRecord("a1")}
	run := &fakeRunner{result: "r"}
	h := newHarness(sess, run)

	for i := 0; i < 3; i++ {
		sess.closed = false
		require.NoError(t, h.worker.processDelivery(context.Background(), request("a1", 0)))
		assert.True(t, sess.closed)
	}

	assert.Equal(t, 3, h.sessions)
}
