package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

// MaxItemChars caps the text of a single document inside a prompt.
const MaxItemChars = 12000

// Delimiter is the header line that opens document n (1-based) in a batched prompt.
func Delimiter(n int, it Item) string {
	return fmt.Sprintf("=== DOCUMENT %d | source_id=%s | user_id=%s | document_type=%s ===",
		n, it.SourceID, it.UserID, orUnknown(it.DocumentType))
}

// BuildSystemPrompt composes the extraction instructions and embeds the JSON schema.
func BuildSystemPrompt(def schema.Definition) string {
	parts := []string{
		"You extract structured expense data from invoices, receipts, bills and payment emails.",
		`Return ONLY a JSON object of the form {"documents": [...]} with exactly one object per input document, in input order.`,
		"Every object must match the JSON Schema below.",
		"Copy source_id, user_id and document_type from each document's header line.",
		"Set is_processing_valid to false when a document is not an expense document (newsletters, promotions, one-time passwords) or cannot be read; otherwise true.",
		"Use ISO-8601 dates (YYYY-MM-DD). Dates printed as DD/MM/YYYY are day first.",
		"Currency must be a 3-letter ISO 4217 code; default to " + constants.DefaultCurrency + " if uncertain.",
		"amount is the final payable total including taxes. Numbers are plain JSON numbers without currency symbols or thousands separators.",
		"category must be one of: " + strings.Join(constants.AsStringSlice(), ", ") + ". If uncertain, choose Other.",
		"List each purchased line under items when the document shows line items.",
		"Put custom fields under metadata using the property names in the schema.",
		"If a field is not present, omit it. Never invent values.",
		"JSON Schema:\n" + mustJSON(def.JSONSchema()),
	}
	return strings.Join(parts, "\n")
}

// BuildTextPrompt packs items into one prompt, each opened by its Delimiter.
func BuildTextPrompt(def schema.Definition, items []Item) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) follow.\n", len(items))
	for i, it := range items {
		b.WriteString("\n")
		b.WriteString(Delimiter(i+1, it))
		b.WriteString("\n")
		if it.Filename != "" {
			b.WriteString("Filename: ")
			b.WriteString(it.Filename)
			b.WriteString("\n")
		}
		text := strings.TrimSpace(it.Text)
		if len(text) > MaxItemChars {
			text = text[:MaxItemChars] + "\n…(truncated)"
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return Prompt{System: BuildSystemPrompt(def), User: b.String()}
}

// BuildImagePrompt describes a single attached image document.
func BuildImagePrompt(def schema.Definition, it Item) Prompt {
	var b strings.Builder
	b.WriteString("1 document follows as an attached image.\n\n")
	b.WriteString(Delimiter(1, it))
	b.WriteString("\n")
	if it.Filename != "" {
		b.WriteString("Filename: ")
		b.WriteString(it.Filename)
		b.WriteString("\n")
	}
	b.WriteString("Read every visible amount, date and line item from the image.\n")
	return Prompt{System: BuildSystemPrompt(def), User: b.String()}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
