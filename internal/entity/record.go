package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExtractedRecord is the normalized result of a successful extraction.
type ExtractedRecord struct {
	ID               uuid.UUID      `json:"id"`
	OwnerID          uuid.UUID      `json:"owner_id"`
	SourceID         uuid.UUID      `json:"source_id"`
	StagedID         uuid.UUID      `json:"staged_id"`
	EmailID          *uuid.UUID     `json:"email_id,omitempty"`
	Imported         bool           `json:"imported"`
	DocumentType     string         `json:"document_type"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	DocumentNumber   string         `json:"document_number"`
	ReferenceID      string         `json:"reference_id"`
	IssueDate        *time.Time     `json:"issue_date,omitempty"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	PaymentDate      *time.Time     `json:"payment_date,omitempty"`
	Amount           float64        `json:"amount"`
	Currency         string         `json:"currency"`
	IsPaid           bool           `json:"is_paid"`
	PaymentMethod    string         `json:"payment_method"`
	VendorName       string         `json:"vendor_name"`
	VendorGSTIN      string         `json:"vendor_gstin"`
	Category         string         `json:"category"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata"`
	ProcessingMethod string         `json:"processing_method"`
	Items            []LineItem     `json:"items,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	// ItemsComplete is set once the line items were written. A record without it
	// is resumed by the next attempt instead of being treated as done.
	ItemsComplete bool `json:"items_complete"`
}

// LineItem is one product or service line of an ExtractedRecord.
type LineItem struct {
	ID          uuid.UUID      `json:"id"`
	RecordID    uuid.UUID      `json:"record_id"`
	Position    int            `json:"position"`
	ItemName    string         `json:"item_name"`
	ItemCode    string         `json:"item_code"`
	Category    string         `json:"category"`
	Quantity    float64        `json:"quantity"`
	Unit        string         `json:"unit"`
	Rate        float64        `json:"rate"`
	Discount    float64        `json:"discount"`
	TaxPercent  *float64       `json:"tax_percent,omitempty"`
	TotalAmount float64        `json:"total_amount"`
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata"`
}
