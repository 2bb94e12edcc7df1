package providers

import (
	"context"
	"fmt"

	"github.com/docmesh/graphrag-backend/internal/clients/anthropic"
	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// anthropicProvider extracts via the Anthropic Message Batches API. Embeddings
// delegate to the shared OpenAI embedder.
type anthropicProvider struct {
	log      *logger.Logger
	chat     anthropic.Client
	embedder openai.Client
}

func NewAnthropicProvider(baseLog *logger.Logger, chat anthropic.Client, embedder openai.Client) (Provider, error) {
	if chat == nil {
		return nil, fmt.Errorf("anthropic client required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder client required")
	}
	return &anthropicProvider{
		log:      baseLog.With("provider", "claude"),
		chat:     chat,
		embedder: embedder,
	}, nil
}

func (p *anthropicProvider) Name() string { return "claude" }

func (p *anthropicProvider) SubmitExtraction(ctx context.Context, items []Item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("no items to submit")
	}
	batchItems := make([]anthropic.BatchItem, 0, len(items))
	for _, it := range items {
		system, user := ExtractionPrompt(it.DocType, it.Text)
		batchItems = append(batchItems, anthropic.BatchItem{
			CustomID: it.ChunkID,
			System:   system,
			User:     user,
		})
	}
	batchID, err := p.chat.CreateMessageBatch(ctx, batchItems)
	if err != nil {
		return "", err
	}
	p.log.Info("Submitted extraction batch", "batch_id", batchID, "items", len(items))
	return batchID, nil
}

func (p *anthropicProvider) PollExtraction(ctx context.Context, handle string) (*Poll, error) {
	batch, err := p.chat.GetMessageBatch(ctx, handle)
	if err != nil {
		return nil, err
	}
	if batch.ProcessingStatus != anthropic.BatchStatusEnded {
		return &Poll{Done: false}, nil
	}

	raw, err := p.chat.GetMessageBatchResults(ctx, handle)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		res := Result{ChunkID: r.CustomID}
		if r.Err != nil {
			res.Error = r.Err.Error()
			results = append(results, res)
			continue
		}
		ex, pErr := parseWithRepair(ctx, r.CustomID, r.Text, p.chat.GenerateText)
		if pErr != nil {
			res.Error = pErr.Error()
		} else {
			res.Extraction = ex
		}
		results = append(results, res)
	}
	return &Poll{Done: true, Results: results}, nil
}

func (p *anthropicProvider) ExtractOne(ctx context.Context, item Item) (*Extraction, error) {
	system, user := ExtractionPrompt(item.DocType, item.Text)
	raw, err := p.chat.GenerateText(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return parseWithRepair(ctx, item.ChunkID, raw, p.chat.GenerateText)
}

func (p *anthropicProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embedder.Embed(ctx, texts)
}

func (p *anthropicProvider) GenerateAnswer(ctx context.Context, system string, user string) (string, error) {
	return p.chat.GenerateText(ctx, system, user)
}
