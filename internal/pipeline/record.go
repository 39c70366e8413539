package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

const metaCategoryRaw = "category_raw"

// buildRecord maps a validated record onto the entity. Identity always comes from the
// staged document, never from what the backend echoed back.
func buildRecord(doc *entity.StagedDocument, m map[string]any, method constants.ProcessingMethod) (*entity.ExtractedRecord, []entity.LineItem) {
	rec := &entity.ExtractedRecord{
		OwnerID:          doc.OwnerID,
		SourceID:         doc.SourceID,
		StagedID:         doc.ID,
		EmailID:          doc.EmailID,
		Imported:         false, // flipped by the user when promoting the record to a ledger entry
		DocumentType:     str(m, schema.FieldDocumentType),
		Title:            str(m, schema.FieldTitle),
		Description:      str(m, schema.FieldDescription),
		DocumentNumber:   str(m, schema.FieldDocumentNumber),
		ReferenceID:      str(m, schema.FieldReferenceID),
		IssueDate:        date(m, schema.FieldIssueDate),
		DueDate:          date(m, schema.FieldDueDate),
		PaymentDate:      date(m, schema.FieldPaymentDate),
		Currency:         strings.ToUpper(str(m, schema.FieldCurrency)),
		PaymentMethod:    str(m, schema.FieldPaymentMethod),
		VendorName:       str(m, schema.FieldVendorName),
		VendorGSTIN:      strings.ToUpper(str(m, schema.FieldVendorGSTIN)),
		Tags:             strs(m[schema.FieldTags]),
		Metadata:         object(m[schema.MetadataField]),
		ProcessingMethod: string(method),
	}
	if rec.DocumentType == "" {
		rec.DocumentType = doc.DocumentType
	}
	if rec.Currency == "" {
		rec.Currency = constants.DefaultCurrency
	}
	rec.Amount, _ = number(m[schema.FieldAmount])
	rec.IsPaid, _ = m[schema.FieldIsPaid].(bool)

	if raw := str(m, schema.FieldCategory); raw != "" {
		cat, ok := constants.Canonicalize(raw)
		rec.Category = string(cat)
		if !ok {
			rec.Metadata[metaCategoryRaw] = raw
		}
	}
	return rec, lineItems(m[schema.FieldItems], rec.Currency)
}

// lineItems converts the validated items array. Positions follow array order.
func lineItems(v any, currency string) []entity.LineItem {
	raw := objects(v)
	if len(raw) == 0 {
		return nil
	}
	items := make([]entity.LineItem, 0, len(raw))
	for i, m := range raw {
		it := entity.LineItem{
			Position: i,
			ItemName: str(m, schema.ItemName),
			ItemCode: str(m, schema.ItemCode),
			Category: str(m, schema.ItemCategory),
			Unit:     str(m, schema.ItemUnit),
			Currency: strings.ToUpper(str(m, schema.ItemCurrency)),
			Metadata: object(m[schema.ItemMetadata]),
			Quantity: 1,
		}
		if q, ok := number(m[schema.ItemQuantity]); ok {
			it.Quantity = q
		}
		it.Rate, _ = number(m[schema.ItemRate])
		it.Discount, _ = number(m[schema.ItemDiscount])
		it.TotalAmount, _ = number(m[schema.ItemTotalAmount])
		if tax, ok := number(m[schema.ItemTaxPercent]); ok {
			it.TaxPercent = &tax
		}
		if it.Currency == "" {
			it.Currency = currency
		}
		items = append(items, it)
	}
	return items
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func date(m map[string]any, key string) *time.Time {
	s := str(m, key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func strs(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return []string{}
}

func object(v any) map[string]any {
	out := map[string]any{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

func objects(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
