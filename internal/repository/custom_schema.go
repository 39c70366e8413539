package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

type CustomSchemaRepository interface {
	// GetActive returns the owner's active schema, or (nil, nil) when there is none.
	GetActive(ctx context.Context, ownerID uuid.UUID) (*entity.CustomSchema, error)
	// Activate stores cs as the owner's only active schema, deactivating any previous one.
	Activate(ctx context.Context, cs *entity.CustomSchema) error
}

type customSchemaRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewCustomSchemaRepository(db *DB, logger *slog.Logger) CustomSchemaRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &customSchemaRepo{db: db, logger: logger}
}

var customSchemaColumnNames = columnNames(CustomSchemasColumns)

func (r *customSchemaRepo) GetActive(ctx context.Context, ownerID uuid.UUID) (*entity.CustomSchema, error) {
	sel := r.db.builder().Select(customSchemaColumnNames...).
		From(entsql.Table(tableCustomSchemas)).
		Where(entsql.And(entsql.EQ("owner_id", ownerID), entsql.EQ("active", true))).
		OrderBy(entsql.Desc("updated_at")).
		Limit(1)

	var found *entity.CustomSchema
	err := queryRows(ctx, r.db.drv, sel, func(rows *entsql.Rows) error {
		var (
			cs     entity.CustomSchema
			fields []byte
		)
		if err := rows.Scan(&cs.ID, &cs.OwnerID, &cs.Name, &fields, &cs.Active, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return mapError(err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &cs.Fields); err != nil {
				return fmt.Errorf("decode custom fields: %w", err)
			}
		}
		found = &cs
		return nil
	})
	if err != nil {
		r.logger.Error("failed to load custom schema", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return found, nil
}

func (r *customSchemaRepo) Activate(ctx context.Context, cs *entity.CustomSchema) error {
	if cs.OwnerID == uuid.Nil {
		return errors.New("custom schema owner is required")
	}
	now := time.Now().UTC()
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
		cs.CreatedAt = now
	}
	cs.UpdatedAt = now
	cs.Active = true
	fields, err := encodeJSON(cs.Fields)
	if err != nil {
		return err
	}

	return r.db.withTx(ctx, func(tx dialect.Tx) error {
		off := r.db.builder().Update(tableCustomSchemas).
			Set("active", false).
			Set("updated_at", now).
			Where(entsql.And(entsql.EQ("owner_id", cs.OwnerID), entsql.EQ("active", true)))
		if _, err := execAffected(ctx, tx, off); err != nil {
			return err
		}
		ins := r.db.builder().Insert(tableCustomSchemas).
			Columns(customSchemaColumnNames...).
			Values(cs.ID, cs.OwnerID, cs.Name, fields, cs.Active, cs.CreatedAt, cs.UpdatedAt)
		if _, err := execAffected(ctx, tx, ins); err != nil {
			r.logger.Error("failed to activate custom schema", "owner_id", cs.OwnerID, "error", err)
			return err
		}
		return nil
	})
}
