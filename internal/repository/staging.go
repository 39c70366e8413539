package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"maps"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

type StagingRepository interface {
	Create(ctx context.Context, doc *entity.StagedDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.StagedDocument, error)
	GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.StagedDocument, error)
	ListPending(ctx context.Context, limit int) ([]*entity.StagedDocument, error)
	ListStaleInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]*entity.StagedDocument, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, status constants.StagingStatus, limit int) ([]*entity.StagedDocument, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, upd entity.StatusUpdate) (*entity.StagedDocument, error)
}

type stagingRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewStagingRepository(db *DB, logger *slog.Logger) StagingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &stagingRepo{db: db, logger: logger}
}

var stagedColumnNames = columnNames(StagedDocumentsColumns)

func (r *stagingRepo) Create(ctx context.Context, doc *entity.StagedDocument) error {
	return insertStaged(ctx, r.db, r.db.drv, doc)
}

func insertStaged(ctx context.Context, db *DB, q dialect.ExecQuerier, doc *entity.StagedDocument) error {
	status, err := constants.ParseStatus(string(doc.Status))
	if err != nil {
		return err
	}
	doc.Status = status
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	var emailID any
	if doc.EmailID != nil {
		emailID = *doc.EmailID
	}
	var text any
	if doc.TextContent != "" {
		text = doc.TextContent
	}
	ins := db.builder().Insert(tableStaged).
		Columns(stagedColumnNames...).
		Values(
			doc.ID, doc.OwnerID, doc.SourceID, string(doc.SourceKind), emailID, string(doc.Kind),
			doc.Filename, doc.ContentHash, doc.StorageKey, doc.MIMEType, doc.SizeBytes, doc.DocumentType,
			text, string(doc.Status), doc.Attempts, doc.MaxAttempts, nullString(doc.LastError), meta,
			doc.Priority, doc.CreatedAt, doc.UpdatedAt, doc.ProcessingStartedAt, doc.ProcessingCompletedAt,
		)
	if _, err := execAffected(ctx, q, ins); err != nil {
		db.logger.Error("failed to create staged document", "staged_id", doc.ID, "owner_id", doc.OwnerID, "error", err)
		return err
	}
	return nil
}

func (r *stagingRepo) selectStaged() *entsql.Selector {
	return r.db.builder().Select(stagedColumnNames...).From(entsql.Table(tableStaged))
}

func (r *stagingRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.StagedDocument, error) {
	return r.one(ctx, r.db.drv, r.selectStaged().Where(entsql.EQ("id", id)))
}

func (r *stagingRepo) GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.StagedDocument, error) {
	sel := r.selectStaged().
		Where(entsql.EQ("source_id", sourceID)).
		OrderBy(entsql.Asc("created_at")).
		Limit(1)
	return r.one(ctx, r.db.drv, sel)
}

// ListPending returns pending rows, highest priority first, then oldest first.
func (r *stagingRepo) ListPending(ctx context.Context, limit int) ([]*entity.StagedDocument, error) {
	sel := r.selectStaged().
		Where(entsql.EQ("status", string(constants.StatusPending))).
		OrderBy(entsql.Desc("priority"), entsql.Asc("created_at")).
		Limit(limit)
	docs, err := r.many(ctx, sel)
	if err != nil {
		r.logger.Error("failed to list pending staged documents", "limit", limit, "error", err)
		return nil, err
	}
	return docs, nil
}

func (r *stagingRepo) ListStaleInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]*entity.StagedDocument, error) {
	sel := r.selectStaged().
		Where(entsql.And(
			entsql.EQ("status", string(constants.StatusInProgress)),
			entsql.LT("processing_started_at", startedBefore),
		)).
		OrderBy(entsql.Asc("processing_started_at")).
		Limit(limit)
	return r.many(ctx, sel)
}

func (r *stagingRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, status constants.StagingStatus, limit int) ([]*entity.StagedDocument, error) {
	sel := r.selectStaged().Where(entsql.EQ("owner_id", ownerID))
	if status != "" {
		sel.Where(entsql.EQ("status", string(status)))
	}
	sel.OrderBy(entsql.Desc("created_at")).Limit(limit)
	return r.many(ctx, sel)
}

// UpdateStatus applies one transition. The write is conditional on the status read inside
// the same transaction, and on upd.ExpectStatus when set.
func (r *stagingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, upd entity.StatusUpdate) (*entity.StagedDocument, error) {
	status, err := constants.ParseStatus(string(upd.Status))
	if err != nil {
		return nil, err
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = time.Now().UTC()
	}

	var out *entity.StagedDocument
	err = r.db.withTx(ctx, func(tx dialect.Tx) error {
		sel := r.selectStaged().Where(entsql.EQ("id", id))
		if r.db.postgres() {
			sel.ForUpdate()
		}
		doc, err := r.one(ctx, tx, sel)
		if err != nil {
			return err
		}
		if upd.ExpectStatus != "" && doc.Status != upd.ExpectStatus {
			return ErrStatusConflict
		}
		previous := doc.Status

		doc.Status = status
		doc.UpdatedAt = upd.UpdatedAt
		if upd.Attempts != nil {
			doc.Attempts = *upd.Attempts
		}
		if upd.RetryOnce && doc.Attempts >= doc.MaxAttempts {
			doc.Attempts = max(doc.MaxAttempts-1, 0)
		}
		if upd.ClearLastError {
			doc.LastError = nil
		}
		if upd.LastError != nil {
			doc.LastError = upd.LastError
		}
		if upd.ProcessingStartedAt != nil {
			doc.ProcessingStartedAt = upd.ProcessingStartedAt
		}
		if upd.ClearCompletedAt {
			doc.ProcessingCompletedAt = nil
		}
		if upd.ProcessingCompletedAt != nil {
			doc.ProcessingCompletedAt = upd.ProcessingCompletedAt
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		maps.Copy(doc.Metadata, upd.Metadata)

		meta, err := encodeJSON(doc.Metadata)
		if err != nil {
			return err
		}
		stmt := r.db.builder().Update(tableStaged).
			Set("status", string(doc.Status)).
			Set("attempts", doc.Attempts).
			Set("metadata", meta).
			Set("updated_at", doc.UpdatedAt)
		if doc.LastError != nil {
			stmt.Set("last_error", *doc.LastError)
		} else {
			stmt.SetNull("last_error")
		}
		if doc.ProcessingStartedAt != nil {
			stmt.Set("processing_started_at", *doc.ProcessingStartedAt)
		}
		if doc.ProcessingCompletedAt != nil {
			stmt.Set("processing_completed_at", *doc.ProcessingCompletedAt)
		} else {
			stmt.SetNull("processing_completed_at")
		}
		stmt.Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(previous))))

		n, err := execAffected(ctx, tx, stmt)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrStatusConflict
		}
		out = doc
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStatusConflict) {
			r.logger.Error("failed to update staging status", "staged_id", id, "status", status, "error", err)
		}
		return nil, err
	}
	return out, nil
}

func (r *stagingRepo) one(ctx context.Context, q dialect.ExecQuerier, sel *entsql.Selector) (*entity.StagedDocument, error) {
	var found *entity.StagedDocument
	err := queryRows(ctx, q, sel, func(rows *entsql.Rows) error {
		doc, err := scanStaged(rows)
		if err != nil {
			return err
		}
		found = doc
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

func (r *stagingRepo) many(ctx context.Context, sel *entsql.Selector) ([]*entity.StagedDocument, error) {
	var out []*entity.StagedDocument
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		doc, err := scanStaged(rows)
		if err != nil {
			return err
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}

func scanStaged(rows *entsql.Rows) (*entity.StagedDocument, error) {
	var (
		d                  entity.StagedDocument
		sourceKind, kind   string
		status             string
		emailID            uuid.NullUUID
		text, lastErr      sql.NullString
		meta               []byte
		started, completed sql.NullTime
	)
	err := rows.Scan(
		&d.ID, &d.OwnerID, &d.SourceID, &sourceKind, &emailID, &kind,
		&d.Filename, &d.ContentHash, &d.StorageKey, &d.MIMEType, &d.SizeBytes, &d.DocumentType,
		&text, &status, &d.Attempts, &d.MaxAttempts, &lastErr, &meta,
		&d.Priority, &d.CreatedAt, &d.UpdatedAt, &started, &completed,
	)
	if err != nil {
		return nil, mapError(err)
	}
	d.SourceKind = constants.SourceKind(sourceKind)
	d.Kind = constants.DocumentKind(kind)
	if d.Status, err = constants.ParseStatus(status); err != nil {
		return nil, err
	}
	if emailID.Valid {
		id := emailID.UUID
		d.EmailID = &id
	}
	d.TextContent = text.String
	d.LastError = stringPtr(lastErr)
	if d.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		d.ProcessingStartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		d.ProcessingCompletedAt = &t
	}
	return &d, nil
}
