package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

// StageParams is everything written when a file enters the system.
type StageParams struct {
	Upload     *entity.ManualUpload // nil for email attachments
	Attachment *entity.Attachment   // nil for text documents
	Document   *entity.StagedDocument
}

type AttachmentRepository interface {
	// FindByHash returns the oldest live attachment with this owner and content hash.
	FindByHash(ctx context.Context, ownerID uuid.UUID, contentHash string) (*entity.Attachment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Attachment, error)
	// Stage writes the upload, attachment and pending staged document atomically.
	Stage(ctx context.Context, p StageParams) error
}

type attachmentRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewAttachmentRepository(db *DB, logger *slog.Logger) AttachmentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &attachmentRepo{db: db, logger: logger}
}

var (
	attachmentColumnNames   = columnNames(AttachmentsColumns)
	manualUploadColumnNames = columnNames(ManualUploadsColumns)
)

func (r *attachmentRepo) FindByHash(ctx context.Context, ownerID uuid.UUID, contentHash string) (*entity.Attachment, error) {
	sel := r.db.builder().Select(attachmentColumnNames...).
		From(entsql.Table(tableAttachments)).
		Where(entsql.And(
			entsql.EQ("owner_id", ownerID),
			entsql.EQ("content_hash", contentHash),
			entsql.IsNull("deleted_at"),
		)).
		OrderBy(entsql.Asc("created_at")).
		Limit(1)
	att, err := r.one(ctx, sel)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("failed to look up attachment by hash", "owner_id", ownerID, "error", err)
	}
	return att, err
}

func (r *attachmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Attachment, error) {
	sel := r.db.builder().Select(attachmentColumnNames...).
		From(entsql.Table(tableAttachments)).
		Where(entsql.EQ("id", id))
	return r.one(ctx, sel)
}

func (r *attachmentRepo) Stage(ctx context.Context, p StageParams) error {
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		if p.Upload != nil {
			ins := r.db.builder().Insert(tableManualUploads).
				Columns(manualUploadColumnNames...).
				Values(p.Upload.ID, p.Upload.OwnerID, p.Upload.Filename, p.Upload.DocumentType, p.Upload.CreatedAt)
			if _, err := execAffected(ctx, tx, ins); err != nil {
				return err
			}
		}
		if a := p.Attachment; a != nil {
			var emailID, uploadID any
			if a.EmailID != nil {
				emailID = *a.EmailID
			}
			if a.ManualUploadID != nil {
				uploadID = *a.ManualUploadID
			}
			ins := r.db.builder().Insert(tableAttachments).
				Columns(attachmentColumnNames...).
				Values(
					a.ID, a.OwnerID, string(a.SourceKind), emailID, uploadID, a.Filename,
					a.ContentHash, a.StorageKey, a.MIMEType, a.SizeBytes, a.CreatedAt, a.DeletedAt,
				)
			if _, err := execAffected(ctx, tx, ins); err != nil {
				return err
			}
		}
		return insertStaged(ctx, r.db, tx, p.Document)
	})
	if err != nil {
		r.logger.Error("failed to stage document", "staged_id", p.Document.ID, "owner_id", p.Document.OwnerID, "error", err)
		return err
	}
	return nil
}

func (r *attachmentRepo) one(ctx context.Context, sel *entsql.Selector) (*entity.Attachment, error) {
	var found *entity.Attachment
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		var (
			a                 entity.Attachment
			sourceKind        string
			emailID, uploadID uuid.NullUUID
			deleted           sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.OwnerID, &sourceKind, &emailID, &uploadID, &a.Filename,
			&a.ContentHash, &a.StorageKey, &a.MIMEType, &a.SizeBytes, &a.CreatedAt, &deleted,
		); err != nil {
			return mapError(err)
		}
		a.SourceKind = constants.SourceKind(sourceKind)
		if emailID.Valid {
			id := emailID.UUID
			a.EmailID = &id
		}
		if uploadID.Valid {
			id := uploadID.UUID
			a.ManualUploadID = &id
		}
		a.DeletedAt = timePtr(deleted)
		found = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
