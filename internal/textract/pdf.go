// Package textract prepares plain text for LLM extraction: PDF text layers, PDF page
// counts and HTML email bodies.
package textract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoTextLayer is returned when a PDF has no extractable text, typically a scan.
var ErrNoTextLayer = errors.New("textract: pdf has no text layer")

// Extractor pulls the text layer out of PDFs, falling back to pdftotext when the
// built-in reader finds nothing.
type Extractor struct {
	runner    Runner
	pdftotext string
	logger    *slog.Logger
}

// NewExtractor creates an Extractor. An empty pdftotext path disables the fallback.
func NewExtractor(pdftotext string, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Extractor{runner: runner, pdftotext: pdftotext, logger: logger}
}

// PDFText returns the normalized text layer of a PDF.
func (e *Extractor) PDFText(ctx context.Context, data []byte) (string, error) {
	text, err := readPDFText(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return normalizeWhitespace(text), nil
	}
	if err != nil {
		e.logger.DebugContext(ctx, "textract.pdf.reader_failed", "error", err)
	}
	if e.pdftotext == "" {
		if err != nil {
			return "", fmt.Errorf("read pdf text: %w", err)
		}
		return "", ErrNoTextLayer
	}

	text, perr := e.runPdftotext(ctx, data)
	if perr != nil {
		return "", fmt.Errorf("pdftotext: %w", perr)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoTextLayer
	}
	return normalizeWhitespace(text), nil
}

func (e *Extractor) runPdftotext(ctx context.Context, data []byte) (string, error) {
	f, err := os.CreateTemp("", "intake-*.pdf")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	stdout, stderr, err := e.runner.Run(ctx, e.pdftotext, "-layout", "-nopgbrk", "-enc", "UTF-8", f.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, truncate(string(stderr), 512))
	}
	return string(stdout), nil
}

// readPDFText uses the pure Go reader. The reader panics on some malformed files.
func readPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
