// Package llm builds extraction prompts for OpenAI-compatible chat models and parses
// their answers back into candidate records.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
)

var (
	// ErrEmptyResponse means the model answered with no content.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrMalformedResponse means no JSON object or array could be recovered from the answer.
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// Backend is the extraction collaborator. Both calls return unvalidated candidate records.
type Backend interface {
	ExtractText(ctx context.Context, prompt Prompt) ([]map[string]any, error)
	ExtractMultimodal(ctx context.Context, prompt Prompt, images []Image) ([]map[string]any, error)
}

// Prompt is a system and user message pair.
type Prompt struct {
	System string
	User   string
}

// Image is an inline image sent with a multimodal prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	mt := i.MIMEType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Item is one document in a prompt. The identifiers are echoed back by the model so a
// batched answer can be split per document.
type Item struct {
	SourceID     string
	UserID       string
	DocumentType string
	Filename     string
	Text         string
}
