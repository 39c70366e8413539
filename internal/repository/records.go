package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

type RecordRepository interface {
	GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.ExtractedRecord, error)
	Save(ctx context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error)
	SaveLineItems(ctx context.Context, recordID uuid.UUID, items []entity.LineItem) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]*entity.ExtractedRecord, error)
	ListLineItems(ctx context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]entity.LineItem, error)
}

type recordRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewRecordRepository(db *DB, logger *slog.Logger) RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &recordRepo{db: db, logger: logger}
}

var (
	recordColumnNames   = columnNames(ExtractedRecordsColumns)
	lineItemColumnNames = columnNames(LineItemsColumns)
)

func (r *recordRepo) GetBySource(ctx context.Context, sourceID uuid.UUID) (*entity.ExtractedRecord, error) {
	sel := r.db.builder().Select(recordColumnNames...).
		From(entsql.Table(tableRecords)).
		Where(entsql.EQ("source_id", sourceID)).
		Limit(1)
	var found *entity.ExtractedRecord
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		found = rec
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

// Save inserts the parent record only. Line items are written separately by SaveLineItems.
func (r *recordRepo) Save(ctx context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	tags, err := encodeJSON(rec.Tags)
	if err != nil {
		return nil, err
	}
	meta, err := encodeJSON(rec.Metadata)
	if err != nil {
		return nil, err
	}
	var emailID any
	if rec.EmailID != nil {
		emailID = *rec.EmailID
	}

	ins := r.db.builder().Insert(tableRecords).
		Columns(recordColumnNames...).
		Values(
			rec.ID, rec.OwnerID, rec.SourceID, rec.StagedID, emailID, rec.Imported,
			rec.DocumentType, rec.Title, rec.Description, rec.DocumentNumber, rec.ReferenceID,
			rec.IssueDate, rec.DueDate, rec.PaymentDate,
			rec.Amount, rec.Currency, rec.IsPaid, rec.PaymentMethod, rec.VendorName, rec.VendorGSTIN,
			rec.Category, tags, meta, rec.ProcessingMethod, rec.CreatedAt, rec.ItemsComplete,
		)
	if _, err := execAffected(ctx, r.db.drv, ins); err != nil {
		r.logger.Error("failed to save extracted record", "record_id", rec.ID, "source_id", rec.SourceID, "error", err)
		return nil, err
	}
	return rec, nil
}

// SaveLineItems replaces the record's items with a single multi-row INSERT and marks
// the record items_complete, all in one transaction. Items left by an earlier partial
// attempt are removed first.
func (r *recordRepo) SaveLineItems(ctx context.Context, recordID uuid.UUID, items []entity.LineItem) error {
	ins := r.db.builder().Insert(tableLineItems).Columns(lineItemColumnNames...)
	for i := range items {
		it := &items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.RecordID = recordID
		it.Position = i
		if it.Metadata == nil {
			it.Metadata = map[string]any{}
		}
		meta, err := encodeJSON(it.Metadata)
		if err != nil {
			return err
		}
		ins.Values(
			it.ID, it.RecordID, it.Position, it.ItemName, it.ItemCode, it.Category,
			it.Quantity, it.Unit, it.Rate, it.Discount, it.TaxPercent, it.TotalAmount, it.Currency, meta,
		)
	}

	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		del := r.db.builder().Delete(tableLineItems).Where(entsql.EQ("record_id", recordID))
		if _, err := execAffected(ctx, tx, del); err != nil {
			return err
		}
		if len(items) > 0 {
			n, err := execAffected(ctx, tx, ins)
			if err != nil {
				return err
			}
			if int(n) != len(items) {
				return fmt.Errorf("insert line items: wrote %d of %d rows", n, len(items))
			}
		}
		upd := r.db.builder().Update(tableRecords).
			Set("items_complete", true).
			Where(entsql.EQ("id", recordID))
		n, err := execAffected(ctx, tx, upd)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to save line items", "record_id", recordID, "count", len(items), "error", err)
		return err
	}
	return nil
}

// ListByOwner returns records whose issue date (or creation time when absent) falls in [from, to].
func (r *recordRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]*entity.ExtractedRecord, error) {
	sel := r.db.builder().Select(recordColumnNames...).
		From(entsql.Table(tableRecords)).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Asc("created_at"))

	var out []*entity.ExtractedRecord
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		day := rec.CreatedAt
		if rec.IssueDate != nil {
			day = *rec.IssueDate
		}
		if from != nil && day.Before(*from) {
			return nil
		}
		if to != nil && day.After(to.Add(24*time.Hour-time.Nanosecond)) {
			return nil
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list extracted records", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *recordRepo) ListLineItems(ctx context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]entity.LineItem, error) {
	out := make(map[uuid.UUID][]entity.LineItem, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}
	ids := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		ids[i] = id
	}
	sel := r.db.builder().Select(lineItemColumnNames...).
		From(entsql.Table(tableLineItems)).
		Where(entsql.In("record_id", ids...)).
		OrderBy(entsql.Asc("record_id"), entsql.Asc("position"))
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		var (
			it   entity.LineItem
			tax  sql.NullFloat64
			meta []byte
		)
		if err := rows.Scan(
			&it.ID, &it.RecordID, &it.Position, &it.ItemName, &it.ItemCode, &it.Category,
			&it.Quantity, &it.Unit, &it.Rate, &it.Discount, &tax, &it.TotalAmount, &it.Currency, &meta,
		); err != nil {
			return mapError(err)
		}
		if tax.Valid {
			v := tax.Float64
			it.TaxPercent = &v
		}
		var err error
		if it.Metadata, err = decodeMap(meta); err != nil {
			return err
		}
		out[it.RecordID] = append(out[it.RecordID], it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecord(rows *entsql.Rows) (*entity.ExtractedRecord, error) {
	var (
		rec              entity.ExtractedRecord
		emailID          uuid.NullUUID
		issue, due, paid sql.NullTime
		tags, meta       []byte
	)
	err := rows.Scan(
		&rec.ID, &rec.OwnerID, &rec.SourceID, &rec.StagedID, &emailID, &rec.Imported,
		&rec.DocumentType, &rec.Title, &rec.Description, &rec.DocumentNumber, &rec.ReferenceID,
		&issue, &due, &paid,
		&rec.Amount, &rec.Currency, &rec.IsPaid, &rec.PaymentMethod, &rec.VendorName, &rec.VendorGSTIN,
		&rec.Category, &tags, &meta, &rec.ProcessingMethod, &rec.CreatedAt, &rec.ItemsComplete,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if emailID.Valid {
		id := emailID.UUID
		rec.EmailID = &id
	}
	rec.IssueDate = timePtr(issue)
	rec.DueDate = timePtr(due)
	rec.PaymentDate = timePtr(paid)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if rec.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	return &rec, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
