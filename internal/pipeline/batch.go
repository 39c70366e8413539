package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/llm"
)

// BatchResult is the outcome for one document of a batch. Exactly one of Result and
// Err is set.
type BatchResult struct {
	StagedID uuid.UUID
	Result   *Result
	Err      error
}

type batchDoc struct {
	index   int
	doc     *entity.StagedDocument
	text    string
	prior   *entity.ExtractedRecord
	started time.Time
	log     *slog.Logger
}

// ProcessTextBatch claims the documents and extracts the text ones together, one LLM
// call per owner and chunk of Cfg.TextBatchSize. The answer is split back per document
// and each document is validated, persisted and finalized on its own, so one bad item
// never fails its neighbours. Documents of another kind go through the single-document
// path. Results are returned in the order of ids.
func (p *Processor) ProcessTextBatch(ctx context.Context, ids []uuid.UUID) []BatchResult {
	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessTextBatch", trace.WithAttributes(attribute.Int("documents", len(ids))))
	defer span.End()

	out := make([]BatchResult, len(ids))
	groups := map[uuid.UUID][]*batchDoc{}
	var owners []uuid.UUID

	for i, id := range ids {
		out[i].StagedID = id
		doc, err := p.deps.Status.Start(ctx, id)
		if err != nil {
			out[i].Err = err
			continue
		}
		b := &batchDoc{
			index:   i,
			doc:     doc,
			started: time.Now(),
			log:     common.LoggerFrom(ctx, p.Logger).With("staged_id", doc.ID, "kind", doc.Kind, "attempt", doc.Attempts+1),
		}
		b.log.Info("pipeline.process.start", "batched", doc.Kind == constants.KindText)

		if doc.Kind != constants.KindText {
			res, err := p.attempt(ctx, doc, b.log)
			out[i] = p.settle(ctx, b, res, err, span)
			continue
		}
		prior, err := p.prior(ctx, doc, b.log)
		if err != nil {
			out[i] = p.settle(ctx, b, nil, err, span)
			continue
		}
		if prior != nil && prior.ItemsComplete {
			out[i] = p.settle(ctx, b, existingResult(doc, prior), nil, span)
			continue
		}
		b.prior = prior
		text, err := p.plainText(ctx, doc)
		if err != nil {
			out[i] = p.settle(ctx, b, nil, err, span)
			continue
		}
		b.text = text
		if _, ok := groups[doc.OwnerID]; !ok {
			owners = append(owners, doc.OwnerID)
		}
		groups[doc.OwnerID] = append(groups[doc.OwnerID], b)
	}

	size := max(p.Cfg.TextBatchSize, 1)
	for _, owner := range owners {
		group := groups[owner]
		def := p.deps.Schemas.Compose(ctx, owner)
		for start := 0; start < len(group); start += size {
			chunk := group[start:min(start+size, len(group))]
			items := make([]llm.Item, len(chunk))
			for j, b := range chunk {
				items[j] = itemFor(b.doc, b.text)
			}

			records, err := p.callText(ctx, def, items)
			if err != nil {
				for _, b := range chunk {
					out[b.index] = p.settle(ctx, b, nil, err, span)
				}
				continue
			}
			split := llm.SplitBatch(items, records)
			for j, b := range chunk {
				res, err := p.finalize(ctx, b.doc, def, extraction{records: split[j], method: constants.MethodLLMText}, b.prior, b.log)
				out[b.index] = p.settle(ctx, b, res, err, span)
			}
		}
	}
	return out
}

// settle completes or fails a batched document.
func (p *Processor) settle(ctx context.Context, b *batchDoc, res *Result, err error, span trace.Span) BatchResult {
	if err != nil {
		p.fail(ctx, b.doc, err, b.started, span)
		return BatchResult{StagedID: b.doc.ID, Err: fmt.Errorf("process %s: %w", b.doc.ID, err)}
	}
	p.complete(ctx, b.doc, res, b.started, b.log)
	return BatchResult{StagedID: b.doc.ID, Result: res}
}
