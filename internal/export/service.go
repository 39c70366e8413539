package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

const (
	SheetRecords = "Records"
	SheetItems   = "Line Items"
)

var recordHeaders = []string{
	"Issue Date",
	"Vendor",
	"GSTIN",
	"Category",
	"Document Type",
	"Document Number",
	"Amount",
	"Currency",
	"Paid",
	"Payment Method",
	"Description",
	"Method",
	"Record ID",
}

var itemHeaders = []string{
	"Record ID",
	"#",
	"Item",
	"Code",
	"Category",
	"Quantity",
	"Unit",
	"Rate",
	"Discount",
	"Tax %",
	"Total",
	"Currency",
}

type RecordLister interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]*entity.ExtractedRecord, error)
	ListLineItems(ctx context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]entity.LineItem, error)
}

// Service produces XLSX workbooks of extracted records.
type Service struct {
	records RecordLister
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records RecordLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger, now: time.Now}
}

// ExportXLSX returns a workbook for the owner and date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> every record of the owner.
func (s *Service) ExportXLSX(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()
	fromDate, toDate := s.window(from, to)

	recs, err := s.records.ListByOwner(ctx, ownerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	ids := make([]uuid.UUID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	items, err := s.records.ListLineItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetRecords); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetItems); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	writeRow(f, SheetRecords, 1, toAny(recordHeaders))
	writeRow(f, SheetItems, 1, toAny(itemHeaders))

	itemRow := 2
	for i, r := range recs {
		writeRow(f, SheetRecords, i+2, []any{
			dateCell(r.IssueDate),
			r.VendorName,
			r.VendorGSTIN,
			r.Category,
			r.DocumentType,
			r.DocumentNumber,
			r.Amount,
			r.Currency,
			yesNo(r.IsPaid),
			r.PaymentMethod,
			truncate(r.Description, 140),
			r.ProcessingMethod,
			r.ID.String(),
		})
		for _, it := range items[r.ID] {
			var tax any
			if it.TaxPercent != nil {
				tax = *it.TaxPercent
			}
			writeRow(f, SheetItems, itemRow, []any{
				r.ID.String(),
				it.Position + 1,
				it.ItemName,
				it.ItemCode,
				it.Category,
				it.Quantity,
				it.Unit,
				it.Rate,
				it.Discount,
				tax,
				it.TotalAmount,
				it.Currency,
			})
			itemRow++
		}
	}

	_ = f.SetColWidth(SheetRecords, "A", "A", 14) // date
	_ = f.SetColWidth(SheetRecords, "B", "B", 32) // vendor
	_ = f.SetColWidth(SheetRecords, "C", "F", 18)
	_ = f.SetColWidth(SheetRecords, "K", "K", 48) // description
	_ = f.SetColWidth(SheetRecords, "M", "M", 38)
	_ = f.SetColWidth(SheetItems, "A", "A", 38)
	_ = f.SetColWidth(SheetItems, "C", "C", 36) // item
	if len(recs) > 0 {
		_ = f.AutoFilter(SheetRecords, fmt.Sprintf("A1:M%d", len(recs)+1), nil)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID.String(),
		"rows", len(recs),
		"items", itemRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// window normalizes the bounds to UTC dates, closing an open upper bound at today.
func (s *Service) window(from, to *time.Time) (*time.Time, *time.Time) {
	day := func(t time.Time) *time.Time {
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	var fromDate, toDate *time.Time
	if from != nil {
		fromDate = day(*from)
	}
	if to != nil {
		toDate = day(*to)
	}
	if fromDate != nil && toDate == nil {
		toDate = day(s.now().UTC())
	}
	return fromDate, toDate
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func dateCell(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
