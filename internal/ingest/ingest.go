// Package ingest brings documents into the system: it hashes the bytes, short-circuits
// duplicates, stores the raw file and stages a pending document for extraction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/blob"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/dedup"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/repository"
	"github.com/joseph-ayodele/expense-intake/internal/textract"
)

var (
	// ErrUnsupportedType is returned for files whose kind cannot be resolved.
	ErrUnsupportedType = errors.New("ingest: unsupported file type")
	// ErrEmptyContent is returned for empty files and blank email bodies.
	ErrEmptyContent = errors.New("ingest: empty content")
)

// MetaPageCount is set on staged PDFs whose page count could be read.
const MetaPageCount = "page_count"

// Stager writes the upload, attachment and staged document in one transaction.
type Stager interface {
	Stage(ctx context.Context, p repository.StageParams) error
}

// DuplicateChecker is the content-hash lookup. *dedup.Detector implements it.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, contentHash string, ownerID uuid.UUID) (entity.DuplicateResult, error)
}

// StagedFinder finds an already staged document by its source.
type StagedFinder interface {
	GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.StagedDocument, error)
}

// TextExtractor reads the text layer of a PDF at ingestion time.
type TextExtractor interface {
	PDFText(ctx context.Context, data []byte) (string, error)
}

// DuplicateRecorder observes duplicate short-circuits.
type DuplicateRecorder interface {
	RecordDuplicate(kind constants.DocumentKind)
}

// FileRequest is one file to ingest.
type FileRequest struct {
	OwnerID      uuid.UUID
	Filename     string
	MIMEType     string
	Data         []byte
	SourceKind   constants.SourceKind // defaults to manual
	EmailID      *uuid.UUID           // set for email attachments
	DocumentType string
	Priority     int
	Metadata     map[string]any
}

// EmailBodyRequest stages the HTML or plain-text body of an email.
type EmailBodyRequest struct {
	OwnerID      uuid.UUID
	EmailID      uuid.UUID
	Subject      string
	Body         string
	DocumentType string
	Priority     int
	Metadata     map[string]any
}

// Result is the outcome of one ingestion.
type Result struct {
	StagedID       uuid.UUID
	AttachmentID   uuid.UUID
	ManualUploadID *uuid.UUID
	Kind           constants.DocumentKind
	ContentHash    string
	// Deduplicated is set when nothing was written. Duplicate carries the existing ids.
	Deduplicated bool
	Duplicate    entity.DuplicateResult
}

type Service struct {
	Logger      *slog.Logger
	MaxAttempts int

	dupes    DuplicateChecker
	stager   Stager
	staged   StagedFinder
	blobs    blob.Store
	text     TextExtractor
	recorder DuplicateRecorder
	now      func() time.Time
	locks    keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithTextExtractor pre-extracts PDF text so the LLM fallback does not need the file.
func WithTextExtractor(t TextExtractor) Option {
	return func(s *Service) { s.text = t }
}

// WithDuplicateRecorder registers a duplicate observer.
func WithDuplicateRecorder(r DuplicateRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(dupes DuplicateChecker, stager Stager, staged StagedFinder, blobs blob.Store, maxAttempts int, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	s := &Service{
		Logger:      logger,
		MaxAttempts: maxAttempts,
		dupes:       dupes,
		stager:      stager,
		staged:      staged,
		blobs:       blobs,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFile stages one file. A file whose hash the owner already submitted is not
// written again: the result is marked Deduplicated and carries the existing ids.
// The stored bytes are removed again when staging fails.
func (s *Service) IngestFile(ctx context.Context, req FileRequest) (Result, error) {
	if err := common.NewValidator().
		Field("owner_id", req.OwnerID, common.Required).
		Field("filename", req.Filename, common.Required, common.MaxLength(255)).
		Field("source_kind", string(req.SourceKind), common.OneOf(string(constants.SourceManual), string(constants.SourceEmail))).
		Field("document_type", req.DocumentType, common.MaxLength(64)).
		Field("priority", req.Priority, common.NonNegative).
		Error(); err != nil {
		return Result{}, err
	}
	if len(req.Data) == 0 {
		return Result{}, fmt.Errorf("%s: %w", req.Filename, ErrEmptyContent)
	}
	kind, ok := constants.KindFromFile(req.Filename, req.MIMEType)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", req.Filename, ErrUnsupportedType)
	}
	hash := dedup.Hash(req.Data)
	ctx = common.WithOwnerID(ctx, req.OwnerID.String())
	log := common.LoggerFrom(ctx, s.Logger).With("filename", req.Filename, "hash", hash)

	// Same-hash ingestions are serialized within this process. Across processes the
	// unique (owner_id, content_hash) index on attachments rejects the second write.
	unlock := s.locks.lock(req.OwnerID.String() + "/" + hash)
	defer unlock()

	dup, err := s.dupes.CheckDuplicate(ctx, hash, req.OwnerID)
	if err != nil {
		return Result{}, fmt.Errorf("check duplicate: %w", err)
	}
	if dup.IsDuplicate {
		log.Info("ingest.duplicate", "existing_attachment_id", dup.ExistingAttachmentID)
		if s.recorder != nil {
			s.recorder.RecordDuplicate(kind)
		}
		return Result{Kind: kind, ContentHash: hash, Deduplicated: true, Duplicate: dup}, nil
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = constants.MIMEFromFilename(req.Filename)
	}
	sourceKind := req.SourceKind
	if sourceKind == "" {
		sourceKind = constants.SourceManual
	}
	meta := CleanMetadata(req.Metadata)
	textContent := s.prepareText(ctx, kind, req.Data, meta, log)

	ext := constants.NormalizeExt(filepath.Ext(req.Filename))
	key := blob.Key(req.OwnerID, hash, ext)
	if err := s.blobs.Put(ctx, key, req.Data, mimeType); err != nil {
		return Result{}, fmt.Errorf("store %s: %w", req.Filename, err)
	}

	now := s.now().UTC()
	att := &entity.Attachment{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		SourceKind:  sourceKind,
		EmailID:     req.EmailID,
		Filename:    req.Filename,
		ContentHash: hash,
		StorageKey:  key,
		MIMEType:    mimeType,
		SizeBytes:   int64(len(req.Data)),
		CreatedAt:   now,
	}
	var upload *entity.ManualUpload
	if sourceKind == constants.SourceManual {
		upload = &entity.ManualUpload{
			ID:           uuid.New(),
			OwnerID:      req.OwnerID,
			Filename:     req.Filename,
			DocumentType: req.DocumentType,
			CreatedAt:    now,
		}
		att.ManualUploadID = &upload.ID
	}
	doc := s.newDocument(now, req.OwnerID, att.ID, sourceKind, kind)
	doc.EmailID = req.EmailID
	doc.Filename = req.Filename
	doc.ContentHash = hash
	doc.StorageKey = key
	doc.MIMEType = mimeType
	doc.SizeBytes = att.SizeBytes
	doc.DocumentType = req.DocumentType
	doc.TextContent = textContent
	doc.Priority = req.Priority
	doc.Metadata = meta

	if err := s.stager.Stage(ctx, repository.StageParams{Upload: upload, Attachment: att, Document: doc}); err != nil {
		if errors.Is(err, common.ErrConflict) {
			// Another process staged the same content first. The blob key derives from the
			// hash, so the stored bytes belong to that row as well and stay in place.
			return s.stagedElsewhere(ctx, req.OwnerID, kind, hash, log), nil
		}
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			log.Error("ingest.compensate.failed", "storage_key", key, "err", derr)
		}
		return Result{}, fmt.Errorf("stage %s: %w", req.Filename, err)
	}

	log.Info("ingest.staged", "staged_id", doc.ID, "kind", kind, "size_bytes", doc.SizeBytes)
	res := Result{StagedID: doc.ID, AttachmentID: att.ID, Kind: kind, ContentHash: hash}
	if upload != nil {
		res.ManualUploadID = &upload.ID
	}
	return res, nil
}

func (s *Service) stagedElsewhere(ctx context.Context, ownerID uuid.UUID, kind constants.DocumentKind, hash string, log *slog.Logger) Result {
	dup, err := s.dupes.CheckDuplicate(ctx, hash, ownerID)
	if err != nil {
		log.Warn("ingest.duplicate_lookup_failed", "err", err)
	}
	log.Info("ingest.duplicate", "existing_attachment_id", dup.ExistingAttachmentID, "concurrent", true)
	if s.recorder != nil {
		s.recorder.RecordDuplicate(kind)
	}
	dup.IsDuplicate = true
	return Result{Kind: kind, ContentHash: hash, Deduplicated: true, Duplicate: dup}
}

// IngestEmailBody stages an email body as a text document. It is idempotent per email:
// a body already staged for EmailID is reported as Deduplicated.
func (s *Service) IngestEmailBody(ctx context.Context, req EmailBodyRequest) (Result, error) {
	if err := common.NewValidator().
		Field("owner_id", req.OwnerID, common.Required).
		Field("email_id", req.EmailID, common.Required).
		Field("document_type", req.DocumentType, common.MaxLength(64)).
		Field("priority", req.Priority, common.NonNegative).
		Error(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return Result{}, fmt.Errorf("email %s: %w", req.EmailID, ErrEmptyContent)
	}
	hash := dedup.Hash([]byte(req.Body))

	unlock := s.locks.lock("email/" + req.EmailID.String())
	defer unlock()

	existing, err := s.staged.GetBySource(ctx, req.EmailID)
	switch {
	case err == nil:
		if s.recorder != nil {
			s.recorder.RecordDuplicate(constants.KindText)
		}
		return Result{StagedID: existing.ID, Kind: constants.KindText, ContentHash: existing.ContentHash, Deduplicated: true}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Result{}, fmt.Errorf("lookup email %s: %w", req.EmailID, err)
	}

	now := s.now().UTC()
	doc := s.newDocument(now, req.OwnerID, req.EmailID, constants.SourceEmail, constants.KindText)
	emailID := req.EmailID
	doc.EmailID = &emailID
	doc.Filename = emailFilename(req.Subject, req.Body)
	doc.ContentHash = hash
	doc.MIMEType = "text/plain"
	if strings.HasSuffix(doc.Filename, ".html") {
		doc.MIMEType = "text/html"
	}
	doc.SizeBytes = int64(len(req.Body))
	doc.DocumentType = req.DocumentType
	doc.TextContent = req.Body
	doc.Priority = req.Priority
	doc.Metadata = CleanMetadata(req.Metadata)
	if subj := strings.TrimSpace(req.Subject); subj != "" {
		doc.Metadata["subject"] = subj
	}

	if err := s.stager.Stage(ctx, repository.StageParams{Document: doc}); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return Result{Kind: constants.KindText, ContentHash: hash, Deduplicated: true}, nil
		}
		return Result{}, fmt.Errorf("stage email %s: %w", req.EmailID, err)
	}
	common.LoggerFrom(ctx, s.Logger).Info("ingest.email_staged", "staged_id", doc.ID, "email_id", req.EmailID)
	return Result{StagedID: doc.ID, Kind: constants.KindText, ContentHash: hash}, nil
}

func (s *Service) newDocument(now time.Time, owner, source uuid.UUID, sourceKind constants.SourceKind, kind constants.DocumentKind) *entity.StagedDocument {
	return &entity.StagedDocument{
		ID:          uuid.New(),
		OwnerID:     owner,
		SourceID:    source,
		SourceKind:  sourceKind,
		Kind:        kind,
		Status:      constants.StatusPending,
		MaxAttempts: s.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// prepareText returns the text stored with the staged document. PDF text and page
// counts are best-effort: a scan without a text layer is still staged.
func (s *Service) prepareText(ctx context.Context, kind constants.DocumentKind, data []byte, meta map[string]any, log *slog.Logger) string {
	switch kind {
	case constants.KindText:
		return string(data)
	case constants.KindPDF:
		if pages, err := textract.PageCount(data); err == nil {
			meta[MetaPageCount] = pages
		} else {
			log.Debug("ingest.page_count_failed", "err", err)
		}
		if s.text == nil {
			return ""
		}
		text, err := s.text.PDFText(ctx, data)
		if err != nil {
			log.Debug("ingest.pdf_text_unavailable", "err", err)
			return ""
		}
		return text
	}
	return ""
}

// keyedMutex serializes work per key. Entries are dropped once no holder remains.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.keys == nil {
		k.keys = map[string]*keyedEntry{}
	}
	e, ok := k.keys[key]
	if !ok {
		e = &keyedEntry{}
		k.keys[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.keys, key)
		}
		k.mu.Unlock()
	}
}
