package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/llm"
	"github.com/joseph-ayodele/expense-intake/internal/ocr"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
	"github.com/joseph-ayodele/expense-intake/internal/textract"
	"github.com/joseph-ayodele/expense-intake/internal/validate"
)

// extraction is the raw output of one strategy.
type extraction struct {
	records    []map[string]any
	method     constants.ProcessingMethod
	ocrSuccess bool
}

// extract runs the strategy for the document's kind:
//
//	pdf:   OCR when available, else LLM over the PDF text (llm_pdf)
//	image: LLM multimodal over the image bytes
//	text:  LLM over the HTML or plain-text content
func (p *Processor) extract(ctx context.Context, doc *entity.StagedDocument, def schema.Definition, log *slog.Logger) (extraction, error) {
	switch doc.Kind {
	case constants.KindPDF:
		return p.extractPDF(ctx, doc, def, log)
	case constants.KindImage:
		return p.extractImage(ctx, doc, def)
	case constants.KindText:
		return p.extractText(ctx, doc, def)
	default:
		return extraction{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, doc.Kind)
	}
}

func (p *Processor) extractPDF(ctx context.Context, doc *entity.StagedDocument, def schema.Definition, log *slog.Logger) (extraction, error) {
	if p.deps.OCR != nil && p.deps.OCR.Available() {
		data, err := p.load(ctx, doc)
		if err != nil {
			return extraction{}, err
		}
		records, err := p.callOCR(ctx, doc, data, def)
		if err == nil && len(records) > 0 {
			return extraction{records: records, method: constants.MethodOCRPDF, ocrSuccess: true}, nil
		}
		if err == nil {
			err = errors.New("ocr returned no records")
		}
		log.Warn("pipeline.ocr.fallback", "err", err)
	}

	text, err := p.pdfText(ctx, doc)
	if err != nil {
		return extraction{}, err
	}
	records, err := p.callText(ctx, def, []llm.Item{itemFor(doc, text)})
	if err != nil {
		return extraction{}, err
	}
	return extraction{records: records, method: constants.MethodLLMPDF}, nil
}

func (p *Processor) extractImage(ctx context.Context, doc *entity.StagedDocument, def schema.Definition) (extraction, error) {
	if doc.SizeBytes > constants.MaxImageBytes {
		return extraction{}, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, doc.SizeBytes)
	}
	data, err := p.load(ctx, doc)
	if err != nil {
		return extraction{}, err
	}
	if len(data) > constants.MaxImageBytes {
		return extraction{}, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))
	}
	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = constants.MIMEFromFilename(doc.Filename)
	}

	prompt := llm.BuildImagePrompt(def, itemFor(doc, ""))
	images := []llm.Image{{MIMEType: mimeType, Data: data}}
	records, err := p.callBackend(ctx, "llm_multimodal", func(cctx context.Context) ([]map[string]any, error) {
		return p.deps.LLM.ExtractMultimodal(cctx, prompt, images)
	})
	if err != nil {
		return extraction{}, err
	}
	return extraction{records: records, method: constants.MethodLLMImage}, nil
}

func (p *Processor) extractText(ctx context.Context, doc *entity.StagedDocument, def schema.Definition) (extraction, error) {
	text, err := p.plainText(ctx, doc)
	if err != nil {
		return extraction{}, err
	}
	records, err := p.callText(ctx, def, []llm.Item{itemFor(doc, text)})
	if err != nil {
		return extraction{}, err
	}
	return extraction{records: records, method: constants.MethodLLMText}, nil
}

// pdfText prefers the text extracted at ingestion and reads the PDF only when there is none.
func (p *Processor) pdfText(ctx context.Context, doc *entity.StagedDocument) (string, error) {
	if t := strings.TrimSpace(doc.TextContent); t != "" {
		return t, nil
	}
	if p.deps.Text == nil {
		return "", ErrNoText
	}
	data, err := p.load(ctx, doc)
	if err != nil {
		return "", err
	}
	text, err := p.deps.Text.PDFText(ctx, data)
	if errors.Is(err, textract.ErrNoTextLayer) {
		return "", fmt.Errorf("%w: %w", ErrNoText, err)
	}
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// plainText returns the text of an HTML or plain-text document, flattening HTML.
func (p *Processor) plainText(ctx context.Context, doc *entity.StagedDocument) (string, error) {
	body := doc.TextContent
	if strings.TrimSpace(body) == "" && doc.StorageKey != "" {
		data, err := p.load(ctx, doc)
		if err != nil {
			return "", err
		}
		body = string(data)
	}
	text, err := textract.HTMLToText(body)
	if err != nil {
		return "", fmt.Errorf("flatten html: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (p *Processor) load(ctx context.Context, doc *entity.StagedDocument) ([]byte, error) {
	if doc.StorageKey == "" {
		return nil, fmt.Errorf("document %s has no stored bytes: %w", doc.ID, ErrNoText)
	}
	data, err := p.deps.Blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", doc.StorageKey, errStorage, err)
	}
	return data, nil
}

func (p *Processor) callOCR(ctx context.Context, doc *entity.StagedDocument, data []byte, def schema.Definition) ([]map[string]any, error) {
	in := ocr.Document{Filename: doc.Filename, MIMEType: doc.MIMEType, Data: data}
	return p.callBackend(ctx, "ocr", func(cctx context.Context) ([]map[string]any, error) {
		raw, err := p.deps.OCR.Extract(cctx, in, def.JSONSchema())
		if err != nil {
			return nil, err
		}
		return validate.Records(validate.UnwrapEnvelope(raw)), nil
	})
}

func (p *Processor) callText(ctx context.Context, def schema.Definition, items []llm.Item) ([]map[string]any, error) {
	prompt := llm.BuildTextPrompt(def, items)
	return p.callBackend(ctx, "llm_text", func(cctx context.Context) ([]map[string]any, error) {
		return p.deps.LLM.ExtractText(cctx, prompt)
	})
}

// callBackend runs fn under the backend timeout inside its own span.
func (p *Processor) callBackend(ctx context.Context, backend string, fn func(context.Context) ([]map[string]any, error)) ([]map[string]any, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.backend."+backend)
	defer span.End()
	cctx, cancel := context.WithTimeout(ctx, p.Cfg.BackendTimeout)
	defer cancel()

	started := time.Now()
	records, err := fn(cctx)
	elapsed := time.Since(started)
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveBackend(backend, elapsed, err)
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend call failed")
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("%s: %w", backend, err)
	}
	return records, nil
}

func itemFor(doc *entity.StagedDocument, text string) llm.Item {
	return llm.Item{
		SourceID:     doc.SourceID.String(),
		UserID:       doc.OwnerID.String(),
		DocumentType: doc.DocumentType,
		Filename:     doc.Filename,
		Text:         text,
	}
}
