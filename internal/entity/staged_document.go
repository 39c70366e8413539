package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
)

// StagedDocument is one document submitted for extraction.
type StagedDocument struct {
	ID                    uuid.UUID               `json:"id"`
	OwnerID               uuid.UUID               `json:"owner_id"`
	SourceID              uuid.UUID               `json:"source_id"`
	SourceKind            constants.SourceKind    `json:"source_kind"`
	EmailID               *uuid.UUID              `json:"email_id,omitempty"`
	Kind                  constants.DocumentKind  `json:"kind"`
	Filename              string                  `json:"filename"`
	ContentHash           string                  `json:"content_hash"`
	StorageKey            string                  `json:"storage_key"`
	MIMEType              string                  `json:"mime_type"`
	SizeBytes             int64                   `json:"size_bytes"`
	DocumentType          string                  `json:"document_type"`
	TextContent           string                  `json:"text_content,omitempty"`
	Status                constants.StagingStatus `json:"status"`
	Attempts              int                     `json:"attempts"`
	MaxAttempts           int                     `json:"max_attempts"`
	LastError             *string                 `json:"last_error,omitempty"`
	Metadata              map[string]any          `json:"metadata"`
	Priority              int                     `json:"priority"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
	ProcessingStartedAt   *time.Time              `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time              `json:"processing_completed_at,omitempty"`
}

// StatusUpdate is a single staging transition as written by the status manager.
// Nil fields are left untouched.
type StatusUpdate struct {
	Status                constants.StagingStatus
	ExpectStatus          constants.StagingStatus // conditional write guard; empty means unconditional
	Attempts              *int
	RetryOnce             bool // lower attempts to max_attempts-1 so one more attempt stays under the cap
	LastError             *string
	ClearLastError        bool
	Metadata              map[string]any // merged over the stored map
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	ClearCompletedAt      bool
	UpdatedAt             time.Time
}
