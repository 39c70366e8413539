package openai

import (
	"time"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

// Config for the OpenAI-compatible client.
type Config struct {
	APIKey            string
	BaseURL           string        // empty means the OpenAI default
	Model             string        // e.g., "gpt-4o-mini"
	Temperature       float32       // 0..2
	Timeout           time.Duration // http client timeout
	RequestsPerMinute int           // 0 = unlimited
}

// ConfigFrom maps the application LLM settings.
func ConfigFrom(c common.LLMConfig) Config {
	return Config{
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Temperature:       c.Temperature,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}
