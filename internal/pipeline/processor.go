// Package pipeline turns staged documents into extracted records. It claims a document,
// picks an extraction strategy from its kind, validates the candidates against the
// owner's composed schema and persists the first valid one with its line items.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/llm"
	"github.com/joseph-ayodele/expense-intake/internal/ocr"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
	"github.com/joseph-ayodele/expense-intake/internal/staging"
	"github.com/joseph-ayodele/expense-intake/internal/validate"
)

const tracerName = "github.com/joseph-ayodele/expense-intake/internal/pipeline"

// failWriteTimeout bounds the status write made after the processing context is gone.
const failWriteTimeout = 10 * time.Second

// StatusManager applies staging transitions. *staging.Manager implements it.
type StatusManager interface {
	Start(ctx context.Context, id uuid.UUID) (*entity.StagedDocument, error)
	Complete(ctx context.Context, doc *entity.StagedDocument, c staging.Completion)
	Fail(ctx context.Context, doc *entity.StagedDocument, kind constants.ErrorKind, cause error) constants.StagingStatus
}

// RecordStore persists extracted records.
type RecordStore interface {
	GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.ExtractedRecord, error)
	Save(ctx context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error)
	SaveLineItems(ctx context.Context, recordID uuid.UUID, items []entity.LineItem) error
}

// SchemaComposer returns the extraction schema for an owner.
type SchemaComposer interface {
	Compose(ctx context.Context, ownerID uuid.UUID) schema.Definition
}

// BlobReader loads raw document bytes.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// OCRBackend is the structured OCR collaborator.
type OCRBackend interface {
	Available() bool
	Extract(ctx context.Context, doc ocr.Document, schema map[string]any) (any, error)
}

// TextExtractor pulls the text layer out of a PDF.
type TextExtractor interface {
	PDFText(ctx context.Context, data []byte) (string, error)
}

// Observer receives processing outcomes and backend timings.
type Observer interface {
	ObserveOutcome(method constants.ProcessingMethod, kind constants.ErrorKind, elapsed time.Duration)
	ObserveBackend(backend string, elapsed time.Duration, err error)
}

// Config tunes the processor.
type Config struct {
	BackendTimeout time.Duration
	RequiredFields []string
	TextBatchSize  int
}

// Deps are the collaborators the processor drives. OCR and Text are optional.
type Deps struct {
	Status    StatusManager
	Records   RecordStore
	Schemas   SchemaComposer
	Blobs     BlobReader
	Validator *validate.Validator
	OCR       OCRBackend
	LLM       llm.Backend
	Text      TextExtractor
	Observer  Observer
}

// Result describes a completed document.
type Result struct {
	StagedID     uuid.UUID
	Method       constants.ProcessingMethod
	Record       *entity.ExtractedRecord
	ResultsCount int
	OCRSuccess   bool
	// Existing is set when a record for the source already existed and nothing was extracted.
	Existing bool
}

type Processor struct {
	Logger *slog.Logger
	Cfg    Config
	deps   Deps
	tracer trace.Tracer
}

func NewProcessor(cfg Config, deps Deps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 90 * time.Second
	}
	if cfg.TextBatchSize < 1 {
		cfg.TextBatchSize = 1
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(logger)
	}
	return &Processor{Logger: logger, Cfg: cfg, deps: deps, tracer: otel.Tracer(tracerName)}
}

// Process claims the staged document and runs one extraction attempt. A document that
// is no longer pending yields staging.ErrNotClaimable and is left untouched. Any other
// failure is recorded on the document before it is returned.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(attribute.String("staged_id", id.String())))
	defer span.End()

	doc, err := p.deps.Status.Start(ctx, id)
	if err != nil {
		if !errors.Is(err, staging.ErrNotClaimable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "claim failed")
		}
		return nil, err
	}
	log := common.LoggerFrom(ctx, p.Logger).With("staged_id", doc.ID, "kind", doc.Kind, "attempt", doc.Attempts+1)
	log.Info("pipeline.process.start")
	started := time.Now()

	res, err := p.attempt(ctx, doc, log)
	if err != nil {
		p.fail(ctx, doc, err, started, span)
		return nil, fmt.Errorf("process %s: %w", id, err)
	}
	p.complete(ctx, doc, res, started, log)
	return res, nil
}

// attempt is one pass over a claimed document, without any status writes.
func (p *Processor) attempt(ctx context.Context, doc *entity.StagedDocument, log *slog.Logger) (*Result, error) {
	prior, err := p.prior(ctx, doc, log)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.ItemsComplete {
		return existingResult(doc, prior), nil
	}
	def := p.deps.Schemas.Compose(ctx, doc.OwnerID)

	ex, err := p.extract(ctx, doc, def, log)
	if err != nil {
		return nil, err
	}
	return p.finalize(ctx, doc, def, ex, prior, log)
}

// prior returns the record already stored for the document's source, or nil. A record
// whose line items never landed is returned too; the caller re-extracts and writes only
// the items against it.
func (p *Processor) prior(ctx context.Context, doc *entity.StagedDocument, log *slog.Logger) (*entity.ExtractedRecord, error) {
	rec, err := p.deps.Records.GetBySource(ctx, doc.SourceID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup record by source: %w: %w", errStorage, err)
	}
	if !rec.ItemsComplete {
		log.Warn("pipeline.resume_line_items", "record_id", rec.ID)
	}
	return rec, nil
}

func existingResult(doc *entity.StagedDocument, rec *entity.ExtractedRecord) *Result {
	method := constants.ProcessingMethod(rec.ProcessingMethod)
	return &Result{StagedID: doc.ID, Method: method, Record: rec, ResultsCount: 1, Existing: true}
}

func (p *Processor) complete(ctx context.Context, doc *entity.StagedDocument, res *Result, started time.Time, log *slog.Logger) {
	p.deps.Status.Complete(ctx, doc, staging.Completion{
		Method:       res.Method,
		OCRSuccess:   res.OCRSuccess,
		ResultsCount: res.ResultsCount,
	})
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveOutcome(res.Method, "", time.Since(started))
	}
	log.Info("pipeline.process.ok",
		"method", res.Method, "results", res.ResultsCount, "existing", res.Existing,
		"record_id", res.Record.ID, "elapsed", time.Since(started))
}

// fail records the failed attempt. The write runs on a detached context so a cancelled
// or expired processing context still leaves the attempt counted.
func (p *Processor) fail(ctx context.Context, doc *entity.StagedDocument, cause error, started time.Time, span trace.Span) {
	kind := Kind(cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(kind))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	next := p.deps.Status.Fail(wctx, doc, kind, cause)
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveOutcome("", kind, time.Since(started))
	}
	common.LoggerFrom(ctx, p.Logger).Error("pipeline.process.failed",
		"staged_id", doc.ID, "attempt", doc.Attempts+1, "error_type", kind,
		"next_status", next, "err", cause)
}

// finalize validates the candidates and persists the first valid record. When prior is
// set only its line items are written.
func (p *Processor) finalize(ctx context.Context, doc *entity.StagedDocument, def schema.Definition, ex extraction, prior *entity.ExtractedRecord, log *slog.Logger) (*Result, error) {
	candidates := validCandidates(ex.records)
	if len(candidates) == 0 {
		log.Warn("pipeline.no_valid_records", "method", ex.method, "returned", len(ex.records))
		return nil, ErrNoValidRecords
	}

	normalized := make([]map[string]any, 0, len(candidates))
	for i, c := range candidates {
		clean, touched := validate.Sanitize(c, def)
		if len(touched) > 0 {
			log.Debug("pipeline.sanitized", "candidate", i, "fields", touched)
		}
		out, err := p.deps.Validator.Validate(ctx, clean, def, p.Cfg.RequiredFields)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		normalized = append(normalized, out)
	}
	if len(normalized) > 1 {
		log.Warn("pipeline.extra_candidates_ignored", "count", len(normalized)-1)
	}

	rec, items := buildRecord(doc, normalized[0], ex.method)
	saved, err := p.persist(ctx, rec, items, prior, log)
	if err != nil {
		return nil, err
	}
	return &Result{
		StagedID:     doc.ID,
		Method:       ex.method,
		Record:       saved,
		ResultsCount: len(normalized),
		OCRSuccess:   ex.ocrSuccess,
	}, nil
}

// persist writes the parent record, then its line items. A unique-source conflict means
// another attempt already saved the record; it is returned as is when its items are
// complete and otherwise gets the items written against it.
func (p *Processor) persist(ctx context.Context, rec *entity.ExtractedRecord, items []entity.LineItem, prior *entity.ExtractedRecord, log *slog.Logger) (*entity.ExtractedRecord, error) {
	saved := prior
	if saved == nil {
		var err error
		saved, err = p.deps.Records.Save(ctx, rec)
		if errors.Is(err, common.ErrConflict) {
			existing, gerr := p.deps.Records.GetBySource(ctx, rec.SourceID)
			if gerr != nil {
				return nil, fmt.Errorf("reload record after conflict: %w: %w", errStorage, gerr)
			}
			log.Info("pipeline.record_exists", "record_id", existing.ID, "items_complete", existing.ItemsComplete)
			if existing.ItemsComplete {
				return existing, nil
			}
			saved = existing
		} else if err != nil {
			return nil, fmt.Errorf("save record: %w: %w", errStorage, err)
		}
	}
	if err := p.deps.Records.SaveLineItems(ctx, saved.ID, items); err != nil {
		return nil, fmt.Errorf("save line items for record %s: %w: %w", saved.ID, errStorage, err)
	}
	saved.Items = items
	saved.ItemsComplete = true
	return saved, nil
}

// validCandidates drops records the backend flagged as irrelevant. Only an explicit false
// flag drops a record; a missing flag takes the schema default.
func validCandidates(records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		switch v := r[schema.FieldIsProcessingValid].(type) {
		case bool:
			if !v {
				continue
			}
		case string:
			if v == "false" || v == "False" || v == "FALSE" {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
