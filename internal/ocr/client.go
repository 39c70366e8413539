// Package ocr is the client for the structured OCR extraction API. The API takes a
// document plus a JSON schema and answers with provider-specific JSON wrapping the
// extracted content.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

// ErrUnavailable is returned when OCR is not configured or the breaker is open.
var ErrUnavailable = errors.New("ocr: backend unavailable")

const maxResponseBytes = 16 << 20

// Document is a file handed to the OCR API.
type Document struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Client calls the OCR API through a circuit breaker.
type Client struct {
	cfg     common.OCRConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client. It never fails; an unconfigured client reports Available() == false.
func New(cfg common.OCRConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ocr",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ocr.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether credentials are configured and the breaker is not open.
func (c *Client) Available() bool {
	return c.cfg.Available() && c.breaker.State() != gobreaker.StateOpen
}

// Extract uploads doc with the JSON schema and returns the decoded response body.
func (c *Client) Extract(ctx context.Context, doc Document, schema map[string]any) (any, error) {
	if !c.cfg.Available() {
		return nil, ErrUnavailable
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, doc, schema)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, err
}

func (c *Client) do(ctx context.Context, doc Document, schema map[string]any) (any, error) {
	reqID := uuid.New().String()
	start := time.Now()

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", doc.Filename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := fw.Write(doc.Data); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	fields := map[string]string{
		"output_type": "json",
		"json_schema": string(schemaJSON),
	}
	if c.cfg.ModelID != "" {
		fields["model"] = c.cfg.ModelID
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	c.logger.InfoContext(ctx, "ocr.http.request",
		"req_id", reqID, "filename", doc.Filename, "bytes", len(doc.Data))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "ocr.http.send_error",
			"req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("ocr.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	c.logger.InfoContext(ctx, "ocr.http.response",
		"req_id", reqID, "status", resp.StatusCode, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ocr status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
