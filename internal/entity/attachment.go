package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
)

// Attachment is a stored file, either an email attachment or a manual upload.
type Attachment struct {
	ID             uuid.UUID            `json:"id"`
	OwnerID        uuid.UUID            `json:"owner_id"`
	SourceKind     constants.SourceKind `json:"source_kind"`
	EmailID        *uuid.UUID           `json:"email_id,omitempty"`
	ManualUploadID *uuid.UUID           `json:"manual_upload_id,omitempty"`
	Filename       string               `json:"filename"`
	ContentHash    string               `json:"content_hash"`
	StorageKey     string               `json:"storage_key"`
	MIMEType       string               `json:"mime_type"`
	SizeBytes      int64                `json:"size_bytes"`
	CreatedAt      time.Time            `json:"created_at"`
	DeletedAt      *time.Time           `json:"deleted_at,omitempty"`
}

// ManualUpload is the user-facing upload that produced an attachment.
type ManualUpload struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Filename     string    `json:"filename"`
	DocumentType string    `json:"document_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// DuplicateResult is the verdict of a content-hash lookup.
type DuplicateResult struct {
	IsDuplicate            bool       `json:"is_duplicate"`
	ExistingAttachmentID   *uuid.UUID `json:"existing_attachment_id,omitempty"`
	ExistingFilename       string     `json:"existing_filename,omitempty"`
	ExistingManualUploadID *uuid.UUID `json:"existing_manual_upload_id,omitempty"`
}
