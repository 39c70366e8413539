package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableStaged        = "staged_documents"
	tableAttachments   = "attachments"
	tableManualUploads = "manual_uploads"
	tableRecords       = "extracted_records"
	tableLineItems     = "line_items"
	tableCustomSchemas = "custom_schemas"
)

var jsonb = map[string]string{dialect.Postgres: "jsonb"}
var pgDate = map[string]string{dialect.Postgres: "date"}

var (
	// ManualUploadsColumns holds the columns for the "manual_uploads" table.
	ManualUploadsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "filename", Type: field.TypeString},
		{Name: "document_type", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	ManualUploadsTable = &schema.Table{
		Name:       tableManualUploads,
		Columns:    ManualUploadsColumns,
		PrimaryKey: []*schema.Column{ManualUploadsColumns[0]},
	}

	// AttachmentsColumns holds the columns for the "attachments" table.
	AttachmentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "source_kind", Type: field.TypeString},
		{Name: "email_id", Type: field.TypeUUID, Nullable: true},
		{Name: "manual_upload_id", Type: field.TypeUUID, Nullable: true},
		{Name: "filename", Type: field.TypeString},
		{Name: "content_hash", Type: field.TypeString},
		{Name: "storage_key", Type: field.TypeString},
		{Name: "mime_type", Type: field.TypeString},
		{Name: "size_bytes", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "deleted_at", Type: field.TypeTime, Nullable: true},
	}
	AttachmentsTable = &schema.Table{
		Name:       tableAttachments,
		Columns:    AttachmentsColumns,
		PrimaryKey: []*schema.Column{AttachmentsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "attachments_manual_uploads_attachments",
				Columns:    []*schema.Column{column(AttachmentsColumns, "manual_upload_id")},
				RefColumns: []*schema.Column{ManualUploadsColumns[0]},
				RefTable:   ManualUploadsTable,
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:       "attachment_owner_id_content_hash",
				Unique:     true,
				Columns:    columns(AttachmentsColumns, "owner_id", "content_hash"),
				Annotation: &entsql.IndexAnnotation{Where: "deleted_at IS NULL"},
			},
		},
	}

	// StagedDocumentsColumns holds the columns for the "staged_documents" table.
	StagedDocumentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "source_id", Type: field.TypeUUID},
		{Name: "source_kind", Type: field.TypeString},
		{Name: "email_id", Type: field.TypeUUID, Nullable: true},
		{Name: "kind", Type: field.TypeString},
		{Name: "filename", Type: field.TypeString},
		{Name: "content_hash", Type: field.TypeString},
		{Name: "storage_key", Type: field.TypeString},
		{Name: "mime_type", Type: field.TypeString},
		{Name: "size_bytes", Type: field.TypeInt64},
		{Name: "document_type", Type: field.TypeString},
		{Name: "text_content", Type: field.TypeString, Size: 2147483647, Nullable: true},
		{Name: "status", Type: field.TypeString},
		{Name: "attempts", Type: field.TypeInt},
		{Name: "max_attempts", Type: field.TypeInt},
		{Name: "last_error", Type: field.TypeString, Size: 2147483647, Nullable: true},
		{Name: "metadata", Type: field.TypeJSON, SchemaType: jsonb},
		{Name: "priority", Type: field.TypeInt},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "processing_started_at", Type: field.TypeTime, Nullable: true},
		{Name: "processing_completed_at", Type: field.TypeTime, Nullable: true},
	}
	StagedDocumentsTable = &schema.Table{
		Name:       tableStaged,
		Columns:    StagedDocumentsColumns,
		PrimaryKey: []*schema.Column{StagedDocumentsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "stageddocument_status_priority_created_at",
				Columns: columns(StagedDocumentsColumns, "status", "priority", "created_at"),
			},
			{
				Name:    "stageddocument_owner_id_content_hash",
				Columns: columns(StagedDocumentsColumns, "owner_id", "content_hash"),
			},
			{
				Name:    "stageddocument_source_id",
				Unique:  true,
				Columns: columns(StagedDocumentsColumns, "source_id"),
			},
		},
	}

	// ExtractedRecordsColumns holds the columns for the "extracted_records" table.
	ExtractedRecordsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "source_id", Type: field.TypeUUID, Unique: true},
		{Name: "staged_id", Type: field.TypeUUID},
		{Name: "email_id", Type: field.TypeUUID, Nullable: true},
		{Name: "imported", Type: field.TypeBool},
		{Name: "document_type", Type: field.TypeString},
		{Name: "title", Type: field.TypeString},
		{Name: "description", Type: field.TypeString, Size: 2147483647},
		{Name: "document_number", Type: field.TypeString},
		{Name: "reference_id", Type: field.TypeString},
		{Name: "issue_date", Type: field.TypeTime, Nullable: true, SchemaType: pgDate},
		{Name: "due_date", Type: field.TypeTime, Nullable: true, SchemaType: pgDate},
		{Name: "payment_date", Type: field.TypeTime, Nullable: true, SchemaType: pgDate},
		{Name: "amount", Type: field.TypeFloat64},
		{Name: "currency", Type: field.TypeString},
		{Name: "is_paid", Type: field.TypeBool},
		{Name: "payment_method", Type: field.TypeString},
		{Name: "vendor_name", Type: field.TypeString},
		{Name: "vendor_gstin", Type: field.TypeString},
		{Name: "category", Type: field.TypeString},
		{Name: "tags", Type: field.TypeJSON, SchemaType: jsonb},
		{Name: "metadata", Type: field.TypeJSON, SchemaType: jsonb},
		{Name: "processing_method", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "items_complete", Type: field.TypeBool, Default: false},
	}
	ExtractedRecordsTable = &schema.Table{
		Name:       tableRecords,
		Columns:    ExtractedRecordsColumns,
		PrimaryKey: []*schema.Column{ExtractedRecordsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "extracted_records_staged_documents_record",
				Columns:    []*schema.Column{column(ExtractedRecordsColumns, "staged_id")},
				RefColumns: []*schema.Column{StagedDocumentsColumns[0]},
				RefTable:   StagedDocumentsTable,
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "extractedrecord_owner_id_created_at",
				Columns: columns(ExtractedRecordsColumns, "owner_id", "created_at"),
			},
		},
	}

	// LineItemsColumns holds the columns for the "line_items" table.
	LineItemsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "record_id", Type: field.TypeUUID},
		{Name: "position", Type: field.TypeInt},
		{Name: "item_name", Type: field.TypeString},
		{Name: "item_code", Type: field.TypeString},
		{Name: "category", Type: field.TypeString},
		{Name: "quantity", Type: field.TypeFloat64},
		{Name: "unit", Type: field.TypeString},
		{Name: "rate", Type: field.TypeFloat64},
		{Name: "discount", Type: field.TypeFloat64},
		{Name: "tax_percent", Type: field.TypeFloat64, Nullable: true},
		{Name: "total_amount", Type: field.TypeFloat64},
		{Name: "currency", Type: field.TypeString},
		{Name: "metadata", Type: field.TypeJSON, SchemaType: jsonb},
	}
	LineItemsTable = &schema.Table{
		Name:       tableLineItems,
		Columns:    LineItemsColumns,
		PrimaryKey: []*schema.Column{LineItemsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "line_items_extracted_records_items",
				Columns:    []*schema.Column{column(LineItemsColumns, "record_id")},
				RefColumns: []*schema.Column{ExtractedRecordsColumns[0]},
				RefTable:   ExtractedRecordsTable,
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "lineitem_record_id_position",
				Unique:  true,
				Columns: columns(LineItemsColumns, "record_id", "position"),
			},
		},
	}

	// CustomSchemasColumns holds the columns for the "custom_schemas" table.
	CustomSchemasColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString},
		{Name: "fields", Type: field.TypeJSON, SchemaType: jsonb},
		{Name: "active", Type: field.TypeBool},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	CustomSchemasTable = &schema.Table{
		Name:       tableCustomSchemas,
		Columns:    CustomSchemasColumns,
		PrimaryKey: []*schema.Column{CustomSchemasColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "customschema_owner_id_active",
				Columns: columns(CustomSchemasColumns, "owner_id", "active"),
			},
		},
	}

	// Tables holds all the tables in the schema, parents first.
	Tables = []*schema.Table{
		ManualUploadsTable,
		AttachmentsTable,
		StagedDocumentsTable,
		ExtractedRecordsTable,
		LineItemsTable,
		CustomSchemasTable,
	}
)

// Migrate creates or updates every table. Columns and indexes are never dropped.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(db.drv)
	if err != nil {
		return fmt.Errorf("prepare migration: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	db.logger.Info("schema migration applied", "tables", len(Tables))
	return nil
}

func column(cols []*schema.Column, name string) *schema.Column {
	for _, c := range cols {
		if c.Name == name {
			return c
		}
	}
	panic("repository: unknown column " + name)
}

func columns(cols []*schema.Column, names ...string) []*schema.Column {
	out := make([]*schema.Column, 0, len(names))
	for _, n := range names {
		out = append(out, column(cols, n))
	}
	return out
}

// columnNames lists a table's column names in declaration order, for SELECT and INSERT lists.
func columnNames(cols []*schema.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
