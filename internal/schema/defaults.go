package schema

import (
	"strings"

	"github.com/joseph-ayodele/expense-intake/constants"
)

// Names of the default fields the pipeline reads back out of a validated record.
const (
	FieldIsProcessingValid = "is_processing_valid"
	FieldSourceID          = "source_id"
	FieldUserID            = "user_id"
	FieldDocumentType      = "document_type"
	FieldTitle             = "title"
	FieldDescription       = "description"
	FieldDocumentNumber    = "document_number"
	FieldReferenceID       = "reference_id"
	FieldIssueDate         = "issue_date"
	FieldDueDate           = "due_date"
	FieldPaymentDate       = "payment_date"
	FieldAmount            = "amount"
	FieldCurrency          = "currency"
	FieldIsPaid            = "is_paid"
	FieldPaymentMethod     = "payment_method"
	FieldVendorName        = "vendor_name"
	FieldVendorGSTIN       = "vendor_gstin"
	FieldCategory          = "category"
	FieldTags              = "tags"
	FieldItems             = "items"
)

// Line item property names.
const (
	ItemName        = "item_name"
	ItemCode        = "item_code"
	ItemCategory    = "category"
	ItemQuantity    = "quantity"
	ItemUnit        = "unit"
	ItemRate        = "rate"
	ItemDiscount    = "discount"
	ItemTaxPercent  = "tax_percent"
	ItemTotalAmount = "total_amount"
	ItemCurrency    = "currency"
	ItemMetadata    = "metadata"
)

// PaymentMethods is the closed set accepted for payment_method.
var PaymentMethods = []string{"cash", "card", "upi", "net_banking", "bank_transfer", "cheque", "wallet", "other"}

// Default returns the schema used when an owner has no custom fields.
func Default() Definition {
	return NewBuilder().WithDefaults().Build()
}

func defaultFields() []Field {
	str := func(name, desc string) Field { return Field{Name: name, Type: TypeString, Description: desc} }
	date := func(name, desc string) Field {
		return Field{Name: name, Type: TypeString, Format: FormatDate, Description: desc + " (YYYY-MM-DD)"}
	}

	return []Field{
		{Name: FieldIsProcessingValid, Type: TypeBoolean, Default: true,
			Description: "false when the document is not an expense document or could not be read"},
		str(FieldSourceID, "Identifier of the source document, copied from the document header"),
		str(FieldUserID, "Owner identifier, copied from the document header"),
		str(FieldDocumentType, "invoice, receipt, bill, statement or other"),
		str(FieldTitle, "Short human readable title"),
		str(FieldDescription, "One sentence summary of what was purchased"),
		str(FieldDocumentNumber, "Invoice or receipt number as printed"),
		str(FieldReferenceID, "Order, booking or transaction reference"),
		date(FieldIssueDate, "Date the document was issued"),
		date(FieldDueDate, "Payment due date"),
		date(FieldPaymentDate, "Date the payment was made"),
		{Name: FieldAmount, Type: TypeNumber, Description: "Total payable amount including taxes"},
		{Name: FieldCurrency, Type: TypeString, Default: constants.DefaultCurrency, Description: "ISO 4217 currency code"},
		{Name: FieldIsPaid, Type: TypeBoolean, Default: false, Description: "true when the document shows the amount as paid"},
		{Name: FieldPaymentMethod, Type: TypeString, Enum: PaymentMethods, Description: "How the payment was made"},
		str(FieldVendorName, "Merchant or supplier name"),
		str(FieldVendorGSTIN, "Vendor GSTIN or tax registration number"),
		{Name: FieldCategory, Type: TypeString, Description: "Expense category, one of: " + strings.Join(constants.AsStringSlice(), ", ")},
		{Name: FieldTags, Type: TypeArray, Items: &Field{Type: TypeString}, Description: "Free form labels"},
		{Name: MetadataField, Type: TypeObject, Description: "Additional custom fields"},
		{Name: FieldItems, Type: TypeArray, Description: "Line items", Items: &Field{
			Type: TypeObject,
			Properties: []Field{
				str(ItemName, "Item or service name"),
				str(ItemCode, "SKU, HSN or SAC code"),
				str(ItemCategory, "Item category"),
				{Name: ItemQuantity, Type: TypeNumber, Default: 1.0},
				str(ItemUnit, "Unit of measure"),
				{Name: ItemRate, Type: TypeNumber, Description: "Unit price"},
				{Name: ItemDiscount, Type: TypeNumber, Default: 0.0},
				{Name: ItemTaxPercent, Type: TypeNumber},
				{Name: ItemTotalAmount, Type: TypeNumber, Description: "Line total"},
				{Name: ItemCurrency, Type: TypeString, Default: constants.DefaultCurrency},
				{Name: ItemMetadata, Type: TypeObject},
			},
			Required: []string{ItemName, ItemRate, ItemTotalAmount},
		}},
	}
}
