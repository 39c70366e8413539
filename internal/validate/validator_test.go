package validate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

func newValidator() *Validator {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validationError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	var ve *Error
	require.True(t, errors.As(err, &ve), "expected *validate.Error, got %T", err)
	assert.True(t, errors.Is(err, common.ErrValidation))
	return ve
}

func TestValidate_AppliesDefaults(t *testing.T) {
	out, err := newValidator().Validate(context.Background(), map[string]any{"amount": 150.0}, schema.Default(), []string{"amount"})
	require.NoError(t, err)

	assert.Equal(t, 150.0, out["amount"])
	assert.Equal(t, "INR", out["currency"])
	assert.Equal(t, false, out["is_paid"])
	assert.Equal(t, true, out["is_processing_valid"])
	assert.NotContains(t, out, "tags")
}

func TestValidate_NullRequiredField(t *testing.T) {
	_, err := newValidator().Validate(context.Background(), map[string]any{"amount": nil}, schema.Default(), []string{"amount"})

	ve := validationError(t, err)
	assert.Equal(t, "amount", ve.Field())
	assert.Equal(t, -1, ve.Index())
	assert.Equal(t, "validation failed: amount is required", err.Error())
}

func TestValidate_TypeMismatch(t *testing.T) {
	_, err := newValidator().Validate(context.Background(), map[string]any{"amount": "abc"}, schema.Default(), nil)

	ve := validationError(t, err)
	assert.Equal(t, "amount", ve.Field())
	assert.Contains(t, err.Error(), "must be number, got string")
}

func TestValidate_NumberAcceptsIntegers(t *testing.T) {
	out, err := newValidator().Validate(context.Background(), map[string]any{"amount": 99}, schema.Default(), []string{"amount"})
	require.NoError(t, err)
	assert.Equal(t, 99, out["amount"])
}

func TestValidate_LineItems(t *testing.T) {
	record := map[string]any{
		"amount": 25.0,
		"items": []any{
			map[string]any{"item_name": "Widget", "rate": 10, "total_amount": 20},
			map[string]any{"item_name": "Gadget", "rate": 5, "total_amount": 5, "quantity": 1.0},
		},
	}
	out, err := newValidator().Validate(context.Background(), record, schema.Default(), []string{"amount"})
	require.NoError(t, err)

	items, ok := out["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "Widget", first["item_name"])
	assert.Equal(t, 1.0, first["quantity"])
	assert.Equal(t, 0.0, first["discount"])
	assert.Equal(t, "INR", first["currency"])

	// input is left untouched
	_, mutated := record["items"].([]any)[0].(map[string]any)["quantity"]
	assert.False(t, mutated)
}

func TestValidate_LineItemMissingRequired(t *testing.T) {
	record := map[string]any{
		"amount": 25.0,
		"items": []map[string]any{
			{"item_name": "Widget", "rate": 10.0, "total_amount": 20.0},
			{"item_name": "Gadget", "total_amount": 5.0},
		},
	}
	_, err := newValidator().Validate(context.Background(), record, schema.Default(), []string{"amount"})

	ve := validationError(t, err)
	assert.Equal(t, "items", ve.Field())
	assert.Equal(t, 1, ve.Index())
	assert.Equal(t, "items[1].rate", ve.Issues[0].Path())
}

func TestValidate_StringArrayElements(t *testing.T) {
	_, err := newValidator().Validate(context.Background(),
		map[string]any{"tags": []any{"travel", 42.0}}, schema.Default(), nil)

	ve := validationError(t, err)
	assert.Equal(t, "tags[1]", ve.Issues[0].Path())
}

func TestValidate_UnknownFieldsPassThrough(t *testing.T) {
	out, err := newValidator().Validate(context.Background(),
		map[string]any{"amount": 1.0, "confidence": 0.9}, schema.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, out["confidence"])
}

func TestValidate_AggregatesIssues(t *testing.T) {
	_, err := newValidator().Validate(context.Background(),
		map[string]any{"amount": nil, "is_paid": "yes"}, schema.Default(), []string{"amount"})

	ve := validationError(t, err)
	require.Len(t, ve.Issues, 2)
	assert.Equal(t, "validation failed: amount is required (and 1 more)", err.Error())
	assert.Equal(t, "is_paid", ve.Issues[1].Field)
}

func TestValidate_EnumCaseIsCanonicalized(t *testing.T) {
	out, err := newValidator().Validate(context.Background(),
		map[string]any{"payment_method": "UPI"}, schema.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, "upi", out["payment_method"])
}

func TestValidate_OptionalConstraintViolationsAreDropped(t *testing.T) {
	out, err := newValidator().Validate(context.Background(), map[string]any{
		"amount":         10.0,
		"payment_method": "barter",
		"issue_date":     "15/01/2024",
		"due_date":       "2024-02-01",
	}, schema.Default(), []string{"amount"})
	require.NoError(t, err)

	assert.NotContains(t, out, "payment_method")
	assert.NotContains(t, out, "issue_date")
	assert.Equal(t, "2024-02-01", out["due_date"])
}

func TestValidate_RequiredConstraintViolationFails(t *testing.T) {
	_, err := newValidator().Validate(context.Background(),
		map[string]any{"issue_date": "2024-13-45"}, schema.Default(), []string{"issue_date"})

	ve := validationError(t, err)
	assert.Equal(t, "issue_date", ve.Field())
}

func TestValidate_CustomRequiredMetadataField(t *testing.T) {
	def := schema.NewBuilder().WithDefaults().
		AddCustom(schema.Field{Name: "project_code", Type: schema.TypeString}, true).
		Build()

	_, err := newValidator().Validate(context.Background(),
		map[string]any{"metadata": map[string]any{"note": "x"}}, def, nil)
	ve := validationError(t, err)
	assert.Equal(t, "metadata.project_code", ve.Issues[0].Path())

	out, err := newValidator().Validate(context.Background(),
		map[string]any{"metadata": map[string]any{"project_code": "P-7"}}, def, nil)
	require.NoError(t, err)
	assert.Equal(t, "P-7", out["metadata"].(map[string]any)["project_code"])
}

func TestValidate_CustomRequiredFieldWithoutMetadata(t *testing.T) {
	def := schema.NewBuilder().WithDefaults().
		AddCustom(schema.Field{Name: "project_code", Type: schema.TypeString}, true).
		Build()

	for name, record := range map[string]map[string]any{
		"absent": {"amount": 10},
		"null":   {"amount": 10, "metadata": nil},
		"empty":  {"amount": 10, "metadata": map[string]any{}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newValidator().Validate(context.Background(), record, def, nil)
			ve := validationError(t, err)
			assert.Equal(t, "metadata.project_code", ve.Issues[0].Path())
		})
	}
}

func TestValidate_OptionalCustomFieldWithoutMetadata(t *testing.T) {
	def := schema.NewBuilder().WithDefaults().
		AddCustom(schema.Field{Name: "project_code", Type: schema.TypeString}, false).
		Build()

	_, err := newValidator().Validate(context.Background(), map[string]any{"amount": 10}, def, nil)
	require.NoError(t, err)
}

func TestValidate_ConformantRecordRoundTrips(t *testing.T) {
	record := map[string]any{
		"is_processing_valid": true,
		"source_id":           "src-1",
		"user_id":             "user-1",
		"document_type":       "invoice",
		"title":               "Flight",
		"description":         "Return flight",
		"document_number":     "INV-1",
		"reference_id":        "PNR123",
		"issue_date":          "2024-01-15",
		"due_date":            "2024-01-30",
		"payment_date":        "2024-01-16",
		"amount":              1180.0,
		"currency":            "INR",
		"is_paid":             true,
		"payment_method":      "card",
		"vendor_name":         "Air Co",
		"vendor_gstin":        "29ABCDE1234F1Z5",
		"category":            "Travel",
		"tags":                []any{"work"},
		"metadata":            map[string]any{"note": "client visit"},
		"items": []any{map[string]any{
			"item_name":    "Ticket",
			"item_code":    "9964",
			"category":     "Travel",
			"quantity":     1.0,
			"unit":         "seat",
			"rate":         1000.0,
			"discount":     0.0,
			"tax_percent":  18.0,
			"total_amount": 1180.0,
			"currency":     "INR",
			"metadata":     map[string]any{"class": "economy"},
		}},
	}
	out, err := newValidator().Validate(context.Background(), record, schema.Default(), []string{"amount"})
	require.NoError(t, err)
	assert.Equal(t, record, out)
}

func TestValidate_NilRecord(t *testing.T) {
	_, err := newValidator().Validate(context.Background(), nil, schema.Default(), nil)
	validationError(t, err)
}
