// Package scheduler polls for pending staged documents and feeds them to a
// bounded pool of pipeline workers. A second cron entry releases documents
// whose processing lease expired.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/pipeline"
	"github.com/joseph-ayodele/expense-intake/internal/staging"
)

type Processor interface {
	Process(ctx context.Context, id uuid.UUID) (*pipeline.Result, error)
	ProcessTextBatch(ctx context.Context, ids []uuid.UUID) []pipeline.BatchResult
}

type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]*entity.StagedDocument, error)
}

type Reclaimer interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// ReclaimRecorder is told how many leases each sweep released.
type ReclaimRecorder interface {
	RecordReclaimed(n int)
}

type Config struct {
	PollInterval   time.Duration
	PollLimit      int
	Workers        int
	QueueSize      int
	StaleAfter     time.Duration
	ProcessTimeout time.Duration // per job; covers every backend call of the attempt
	BatchText      bool          // send text documents of one poll through a single batched call
}

// job is one unit of worker input: a single document or a text batch.
type job struct {
	ids   []uuid.UUID
	batch bool
}

// Summary counts the outcomes of one poll.
type Summary struct {
	Listed    int
	Enqueued  int
	Succeeded int
	Failed    int
	Skipped   int // already queued or claimed elsewhere
}

type Scheduler struct {
	Logger *slog.Logger
	cfg    Config

	proc     Processor
	pending  PendingLister
	reclaim  Reclaimer
	recorder ReclaimRecorder

	cron *cron.Cron

	ch       chan job
	wg       sync.WaitGroup
	once     sync.Once
	stopWork context.CancelFunc
	draining atomic.Bool // set by Shutdown; queued jobs are left pending
	qmu      sync.Mutex  // guards closed and sends on ch
	closed   bool

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	stats   Summary
}

type Option func(*Scheduler)

func WithReclaimRecorder(r ReclaimRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func New(cfg Config, proc Processor, pending PendingLister, reclaim Reclaimer, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.PollLimit < 1 {
		cfg.PollLimit = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 3 * time.Minute
	}
	s := &Scheduler{
		Logger:  logger,
		cfg:     cfg,
		proc:    proc,
		pending: pending,
		reclaim: reclaim,
		ch:      make(chan job, cfg.QueueSize),
		running: map[uuid.UUID]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the workers and the cron entries. It returns once the
// schedule is installed; Shutdown stops both.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	clog := cronLogger{s.Logger}
	s.cron = cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := s.cron.AddFunc(every(s.cfg.PollInterval), func() { s.poll(ctx) }); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	if s.reclaim != nil && s.cfg.StaleAfter > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.StaleAfter/2), func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("schedule reclaim: %w", err)
		}
	}
	s.cron.Start()
	s.Logger.Info("scheduler started",
		"workers", s.cfg.Workers, "poll_interval", s.cfg.PollInterval, "stale_after", s.cfg.StaleAfter)

	// first pass without waiting a full interval
	go s.poll(ctx)
	return nil
}

func every(d time.Duration) string {
	return "@every " + max(d, time.Second).String()
}

// startWorkers runs the pool on a context detached from ctx so that a signal
// does not abort documents mid-attempt. Shutdown cancels it once the drain
// deadline passes.
func (s *Scheduler) startWorkers(ctx context.Context) {
	s.once.Do(func() {
		ctx, s.stopWork = context.WithCancel(context.WithoutCancel(ctx))
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go func(workerID int) {
				defer s.wg.Done()
				s.Logger.Debug("worker started", "worker_id", workerID)
				for j := range s.ch {
					s.run(ctx, workerID, j)
				}
				s.Logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// poll lists pending documents and enqueues the ones not already in flight.
func (s *Scheduler) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx = common.WithRequestID(ctx, uuid.NewString())
	log := common.LoggerFrom(ctx, s.Logger)
	sum, err := s.enqueuePending(ctx)
	if err != nil {
		log.Error("scheduler.poll.failed", "err", err)
		return
	}
	if sum.Listed > 0 {
		log.Info("scheduler.poll", "listed", sum.Listed, "enqueued", sum.Enqueued, "skipped", sum.Skipped)
	}
}

func (s *Scheduler) enqueuePending(ctx context.Context) (Summary, error) {
	docs, err := s.pending.ListPending(ctx, s.cfg.PollLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending: %w", err)
	}
	sum := Summary{Listed: len(docs)}
	var text []uuid.UUID
	for _, d := range docs {
		if !s.claimSlot(d.ID) {
			sum.Skipped++
			continue
		}
		if s.cfg.BatchText && d.Kind == constants.KindText {
			text = append(text, d.ID)
			continue
		}
		if !s.enqueue(ctx, job{ids: []uuid.UUID{d.ID}}) {
			s.releaseSlots([]uuid.UUID{d.ID})
			return sum, ctx.Err()
		}
		sum.Enqueued++
	}
	if len(text) > 0 {
		if !s.enqueue(ctx, job{ids: text, batch: true}) {
			s.releaseSlots(text)
			return sum, ctx.Err()
		}
		sum.Enqueued += len(text)
	}
	return sum, nil
}

func (s *Scheduler) claimSlot(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) releaseSlots(ids []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.running, id)
	}
}

// enqueue blocks while the queue is full. It reports false once the scheduler
// is closed or ctx is done.
func (s *Scheduler) enqueue(ctx context.Context, j job) bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- j:
		return true
	default:
	}
	s.Logger.Warn("queue full, applying backpressure", "documents", len(j.ids))
	select {
	case s.ch <- j:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) run(ctx context.Context, workerID int, j job) {
	defer s.releaseSlots(j.ids)
	if s.draining.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	if j.batch {
		for _, r := range s.proc.ProcessTextBatch(ctx, j.ids) {
			s.tally(workerID, r.StagedID, r.Result, r.Err)
		}
		return
	}
	res, err := s.proc.Process(ctx, j.ids[0])
	s.tally(workerID, j.ids[0], res, err)
}

func (s *Scheduler) tally(workerID int, id uuid.UUID, res *pipeline.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, staging.ErrNotClaimable):
		s.stats.Skipped++
		s.Logger.Debug("document claimed elsewhere", "worker_id", workerID, "staged_id", id)
	case err != nil:
		s.stats.Failed++
		s.Logger.Error("processing failed", "worker_id", workerID, "staged_id", id, "err", err)
	default:
		s.stats.Succeeded++
		s.Logger.Info("processed document", "worker_id", workerID, "staged_id", id, "method", res.Method)
	}
}

// sweep releases in-progress documents whose lease outlived StaleAfter.
func (s *Scheduler) sweep(ctx context.Context) {
	n, err := s.reclaim.ReclaimStale(ctx, s.cfg.StaleAfter, s.cfg.PollLimit)
	if err != nil {
		s.Logger.Error("scheduler.reclaim.failed", "err", err)
	}
	if n > 0 {
		s.Logger.Warn("scheduler.reclaim", "released", n)
	}
	if s.recorder != nil {
		s.recorder.RecordReclaimed(n)
	}
}

// RunOnce performs a single reclaim sweep and poll, then waits for every job of
// the pass to finish. It is meant for one-shot CLI runs and must not be mixed
// with Start.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if s.reclaim != nil && s.cfg.StaleAfter > 0 {
		s.sweep(ctx)
	}
	s.startWorkers(ctx)
	sum, err := s.enqueuePending(ctx)
	s.closeAndWait(ctx)

	s.mu.Lock()
	sum.Succeeded, sum.Failed = s.stats.Succeeded, s.stats.Failed
	sum.Skipped += s.stats.Skipped
	s.mu.Unlock()
	return sum, err
}

// Shutdown stops the cron entries and waits for in-flight documents to finish.
// Queued documents that have not started stay pending for the next run. When
// ctx ends first the running attempts are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.draining.Store(true)
	s.closeAndWait(ctx)
}

func (s *Scheduler) closeAndWait(ctx context.Context) {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.qmu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); s.wg.Wait() }()
	select {
	case <-ctx.Done():
		s.Logger.Warn("shutdown interrupted by context")
	case <-done:
		s.Logger.Info("queue drained, shutdown complete")
	}
	if s.stopWork != nil {
		s.stopWork()
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
