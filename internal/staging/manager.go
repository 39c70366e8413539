// Package staging owns the staged document state machine:
//
//	pending -> in_progress -> completed
//	                       -> pending (retry, attempts < max)
//	                       -> failed  (attempts >= max)
//
// Only Start reports write errors. Complete and Fail are best-effort: a failed status
// write is logged and swallowed so it never masks the extraction outcome that caused it.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

var (
	// ErrNotClaimable is returned by Start when the document is no longer pending.
	ErrNotClaimable = errors.New("staging: document is not pending")
	// ErrNotRequeueable is returned by Requeue when the document is not failed.
	ErrNotRequeueable = errors.New("staging: document is not failed")
	// ErrLeaseExpired is the failure recorded for documents stuck in in_progress.
	ErrLeaseExpired = errors.New("staging: processing lease expired")
)

const maxErrorLength = 2000

// Store is the persistence the manager writes through.
type Store interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, upd entity.StatusUpdate) (*entity.StagedDocument, error)
	ListStaleInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]*entity.StagedDocument, error)
}

// TransitionRecorder observes successful status writes.
type TransitionRecorder interface {
	RecordTransition(from, to constants.StagingStatus)
}

// Completion describes a successful extraction.
type Completion struct {
	Method       constants.ProcessingMethod
	OCRSuccess   bool
	ResultsCount int
}

// Manager applies status transitions for staged documents.
type Manager struct {
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
	recorder    TransitionRecorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMaxAttempts sets the cap used for documents stored without one.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRecorder registers a transition observer.
func WithRecorder(r TransitionRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a Manager over store.
func NewManager(store Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: store, logger: logger, now: time.Now, maxAttempts: 3}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start claims a pending document by moving it to in_progress. It returns
// ErrNotClaimable when another worker got there first or the document is not pending.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) (*entity.StagedDocument, error) {
	now := m.now().UTC()
	doc, err := m.store.UpdateStatus(ctx, id, entity.StatusUpdate{
		Status:              constants.StatusInProgress,
		ExpectStatus:        constants.StatusPending,
		ProcessingStartedAt: &now,
		ClearCompletedAt:    true,
		UpdatedAt:           now,
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("start %s: %w", id, ErrNotClaimable)
		}
		return nil, fmt.Errorf("start %s: %w", id, err)
	}
	m.record(constants.StatusPending, constants.StatusInProgress)
	m.logger.DebugContext(ctx, "staging.start", "staged_id", id, "attempt", doc.Attempts+1)
	return doc, nil
}

// Complete marks doc completed and stores the completion metadata.
func (m *Manager) Complete(ctx context.Context, doc *entity.StagedDocument, c Completion) {
	now := m.now().UTC()
	_, err := m.store.UpdateStatus(ctx, doc.ID, entity.StatusUpdate{
		Status:       constants.StatusCompleted,
		ExpectStatus: constants.StatusInProgress,
		Metadata: map[string]any{
			constants.MetaProcessingMethod: string(c.Method),
			constants.MetaOCRSuccess:       c.OCRSuccess,
			constants.MetaResultsCount:     c.ResultsCount,
		},
		ClearLastError:        true,
		ProcessingCompletedAt: &now,
		UpdatedAt:             now,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "staging.complete.write_error", "staged_id", doc.ID, "err", err)
		return
	}
	m.record(constants.StatusInProgress, constants.StatusCompleted)
	m.logger.InfoContext(ctx, "staging.complete",
		"staged_id", doc.ID, "method", c.Method, "results", c.ResultsCount)
}

// Fail records a failed attempt and returns the status the document moves to: pending
// while attempts remain, failed once the cap is reached.
func (m *Manager) Fail(ctx context.Context, doc *entity.StagedDocument, kind constants.ErrorKind, cause error) constants.StagingStatus {
	now := m.now().UTC()
	limit := doc.MaxAttempts
	if limit < 1 {
		limit = m.maxAttempts
	}
	attempts := doc.Attempts + 1
	next := constants.StatusPending
	if attempts >= limit {
		next = constants.StatusFailed
	}

	msg := "unknown error"
	if cause != nil {
		msg = truncate(cause.Error(), maxErrorLength)
	}
	upd := entity.StatusUpdate{
		Status:       next,
		ExpectStatus: constants.StatusInProgress,
		Attempts:     &attempts,
		LastError:    &msg,
		Metadata: map[string]any{
			constants.MetaErrorType:          string(kind),
			constants.MetaFailedAtAttempt:    attempts,
			constants.MetaLastErrorTimestamp: now.Format(time.RFC3339),
		},
		UpdatedAt: now,
	}
	if next == constants.StatusFailed {
		upd.ProcessingCompletedAt = &now
	}

	if _, err := m.store.UpdateStatus(ctx, doc.ID, upd); err != nil {
		m.logger.ErrorContext(ctx, "staging.fail.write_error",
			"staged_id", doc.ID, "attempt", attempts, "cause", msg, "err", err)
		return next
	}
	m.record(constants.StatusInProgress, next)
	m.logger.WarnContext(ctx, "staging.fail",
		"staged_id", doc.ID, "attempt", attempts, "max_attempts", limit,
		"error_type", kind, "next_status", next)
	return next
}

// Requeue moves a failed document back to pending. With resetAttempts the attempt
// counter starts over; otherwise the document gets exactly one more try.
func (m *Manager) Requeue(ctx context.Context, id uuid.UUID, resetAttempts bool) (*entity.StagedDocument, error) {
	now := m.now().UTC()
	upd := entity.StatusUpdate{
		Status:           constants.StatusPending,
		ExpectStatus:     constants.StatusFailed,
		ClearCompletedAt: true,
		UpdatedAt:        now,
	}
	if resetAttempts {
		zero := 0
		upd.Attempts = &zero
	} else {
		upd.RetryOnce = true
	}
	doc, err := m.store.UpdateStatus(ctx, id, upd)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("requeue %s: %w", id, ErrNotRequeueable)
		}
		return nil, fmt.Errorf("requeue %s: %w", id, err)
	}
	m.record(constants.StatusFailed, constants.StatusPending)
	m.logger.InfoContext(ctx, "staging.requeue", "staged_id", id, "reset_attempts", resetAttempts)
	return doc, nil
}

// ReclaimStale fails documents that have been in_progress for longer than olderThan,
// which usually means the worker died mid-attempt. The expired lease counts as an
// attempt. It returns the number of documents reclaimed.
func (m *Manager) ReclaimStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := m.now().UTC().Add(-olderThan)
	docs, err := m.store.ListStaleInProgress(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale documents: %w", err)
	}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		started := "unknown"
		if doc.ProcessingStartedAt != nil {
			started = doc.ProcessingStartedAt.Format(time.RFC3339)
		}
		m.Fail(ctx, doc, constants.ErrKindLeaseExpired, fmt.Errorf("%w (started %s)", ErrLeaseExpired, started))
	}
	if len(docs) > 0 {
		m.logger.InfoContext(ctx, "staging.reclaim", "count", len(docs), "cutoff", cutoff)
	}
	return len(docs), nil
}

func (m *Manager) record(from, to constants.StagingStatus) {
	if m.recorder != nil {
		m.recorder.RecordTransition(from, to)
	}
}

// truncate caps s at n bytes without splitting a rune. Invalid bytes are replaced so the
// text column always receives valid UTF-8.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
