package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/pipeline"
	"github.com/joseph-ayodele/expense-intake/internal/staging"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProc struct {
	mu        sync.Mutex
	processed []uuid.UUID
	batches   [][]uuid.UUID
	fail      map[uuid.UUID]error
}

func (f *fakeProc) Process(_ context.Context, id uuid.UUID) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &pipeline.Result{StagedID: id, Method: constants.MethodLLMPDF}, nil
}

func (f *fakeProc) ProcessTextBatch(_ context.Context, ids []uuid.UUID) []pipeline.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, ids)
	out := make([]pipeline.BatchResult, len(ids))
	for i, id := range ids {
		out[i] = pipeline.BatchResult{StagedID: id, Result: &pipeline.Result{StagedID: id, Method: constants.MethodLLMText}}
	}
	return out
}

func (f *fakeProc) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.processed)
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeQueue struct {
	mu   sync.Mutex
	docs []*entity.StagedDocument
	err  error
	// drain removes listed documents, as a processor claiming them would
	drain bool
}

func (q *fakeQueue) ListPending(_ context.Context, limit int) ([]*entity.StagedDocument, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	n := min(limit, len(q.docs))
	out := append([]*entity.StagedDocument(nil), q.docs[:n]...)
	if q.drain {
		q.docs = q.docs[n:]
	}
	return out, nil
}

type fakeReclaimer struct {
	n     int
	calls int
	stale time.Duration
}

func (r *fakeReclaimer) ReclaimStale(_ context.Context, olderThan time.Duration, _ int) (int, error) {
	r.calls++
	r.stale = olderThan
	return r.n, nil
}

type reclaimCount struct{ total int }

func (r *reclaimCount) RecordReclaimed(n int) { r.total += n }

func doc(kind constants.DocumentKind) *entity.StagedDocument {
	return &entity.StagedDocument{ID: uuid.New(), Kind: kind, Status: constants.StatusPending}
}

func TestRunOnce_ProcessesPendingAndBatchesText(t *testing.T) {
	pdf, img := doc(constants.KindPDF), doc(constants.KindImage)
	t1, t2 := doc(constants.KindText), doc(constants.KindText)
	proc := &fakeProc{}
	queue := &fakeQueue{docs: []*entity.StagedDocument{pdf, t1, img, t2}}
	rec := &fakeReclaimer{n: 2}
	counter := &reclaimCount{}

	s := New(Config{Workers: 2, PollLimit: 10, StaleAfter: 10 * time.Minute, BatchText: true}, proc, queue, rec, quiet, WithReclaimRecorder(counter))
	sum, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Listed)
	assert.Equal(t, 4, sum.Enqueued)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.ElementsMatch(t, []uuid.UUID{pdf.ID, img.ID}, proc.processed)
	require.Len(t, proc.batches, 1)
	assert.Equal(t, []uuid.UUID{t1.ID, t2.ID}, proc.batches[0])

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 10*time.Minute, rec.stale)
	assert.Equal(t, 2, counter.total)
}

func TestRunOnce_WithoutBatchingProcessesTextIndividually(t *testing.T) {
	t1 := doc(constants.KindText)
	proc := &fakeProc{}
	s := New(Config{}, proc, &fakeQueue{docs: []*entity.StagedDocument{t1}}, nil, quiet)

	sum, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []uuid.UUID{t1.ID}, proc.processed)
	assert.Empty(t, proc.batches)
}

func TestRunOnce_CountsFailuresAndLostClaims(t *testing.T) {
	ok, bad, taken := doc(constants.KindPDF), doc(constants.KindPDF), doc(constants.KindImage)
	proc := &fakeProc{fail: map[uuid.UUID]error{
		bad.ID:   errors.New("backend down"),
		taken.ID: staging.ErrNotClaimable,
	}}
	s := New(Config{Workers: 3}, proc, &fakeQueue{docs: []*entity.StagedDocument{ok, bad, taken}}, nil, quiet)

	sum, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRunOnce_ListError(t *testing.T) {
	s := New(Config{}, &fakeProc{}, &fakeQueue{err: errors.New("db gone")}, nil, quiet)
	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "list pending")
}

func TestEnqueuePending_SkipsInFlight(t *testing.T) {
	d := doc(constants.KindPDF)
	s := New(Config{QueueSize: 4}, &fakeProc{}, &fakeQueue{docs: []*entity.StagedDocument{d}}, nil, quiet)

	first, err := s.enqueuePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Enqueued)

	// no workers are running, so the document is still in flight
	second, err := s.enqueuePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Enqueued)
	assert.Equal(t, 1, second.Skipped)
}

func TestStartAndShutdown(t *testing.T) {
	proc := &fakeProc{}
	queue := &fakeQueue{drain: true, docs: []*entity.StagedDocument{doc(constants.KindPDF), doc(constants.KindImage)}}
	s := New(Config{Workers: 2, PollInterval: time.Second}, proc, queue, nil, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	s.Shutdown(shutdownCtx)
	assert.False(t, s.enqueue(context.Background(), job{ids: []uuid.UUID{uuid.New()}}), "closed scheduler rejects work")
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 30s", every(30*time.Second))
	assert.Equal(t, "@every 1s", every(0))
}
