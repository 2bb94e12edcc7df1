package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// openaiBatchProvider extracts via the OpenAI Batch API: the chunk prompts are
// written to a JSONL file, uploaded, and run as one batch against the chat
// completions endpoint.
type openaiBatchProvider struct {
	log    *logger.Logger
	client openai.Client
}

func NewOpenAIProvider(baseLog *logger.Logger, client openai.Client) (Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &openaiBatchProvider{
		log:    baseLog.With("provider", "openai"),
		client: client,
	}, nil
}

func (p *openaiBatchProvider) Name() string { return "openai" }

func (p *openaiBatchProvider) SubmitExtraction(ctx context.Context, items []Item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("no items to submit")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		system, user := ExtractionPrompt(it.DocType, it.Text)
		line := openai.BatchRequestLine{
			CustomID: it.ChunkID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: &openai.ChatCompletions{
				Model: p.client.Model(),
				Messages: []openai.ChatMessage{
					{Role: "system", Content: system},
					{Role: "user", Content: user},
				},
			},
		}
		if err := enc.Encode(line); err != nil {
			return "", err
		}
	}

	fileID, err := p.client.UploadBatchFile(ctx, buf.Bytes())
	if err != nil {
		return "", err
	}
	batchID, err := p.client.CreateBatch(ctx, fileID)
	if err != nil {
		return "", err
	}
	p.log.Info("Submitted extraction batch", "batch_id", batchID, "items", len(items))
	return batchID, nil
}

func (p *openaiBatchProvider) PollExtraction(ctx context.Context, handle string) (*Poll, error) {
	batch, err := p.client.GetBatch(ctx, handle)
	if err != nil {
		return nil, err
	}

	switch batch.Status {
	case openai.BatchStatusCompleted:
		// handled below
	case openai.BatchStatusFailed, openai.BatchStatusExpired, openai.BatchStatusCancelled:
		return nil, fmt.Errorf("batch %s ended as %s", handle, batch.Status)
	default:
		return &Poll{Done: false}, nil
	}

	if batch.OutputFileID == "" && batch.ErrorFileID == "" {
		return nil, fmt.Errorf("batch %s completed without an output file", handle)
	}

	var results []Result
	if batch.OutputFileID != "" {
		raw, err := p.client.DownloadFile(ctx, batch.OutputFileID)
		if err != nil {
			return nil, err
		}
		out, err := p.decodeResultLines(ctx, raw)
		if err != nil {
			return nil, err
		}
		results = append(results, out...)
	}

	// Items the batch could not complete land in a separate error file; they
	// must still surface as per-chunk failures, not silently vanish.
	if batch.ErrorFileID != "" {
		raw, err := p.client.DownloadFile(ctx, batch.ErrorFileID)
		if err != nil {
			return nil, err
		}
		failed, err := p.decodeResultLines(ctx, raw)
		if err != nil {
			return nil, err
		}
		results = append(results, failed...)
	}
	return &Poll{Done: true, Results: results}, nil
}

// decodeResultLines turns a JSONL result file into per-chunk Results. Lines
// from the error file carry an error object, which Text() surfaces.
func (p *openaiBatchProvider) decodeResultLines(ctx context.Context, raw []byte) ([]Result, error) {
	var results []Result
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var parsed openai.BatchResultLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return nil, fmt.Errorf("batch output decode error: %w", err)
		}

		res := Result{ChunkID: parsed.CustomID}
		text, tErr := parsed.Text()
		if tErr != nil {
			res.Error = tErr.Error()
			results = append(results, res)
			continue
		}
		ex, pErr := parseWithRepair(ctx, parsed.CustomID, text, p.client.GenerateText)
		if pErr != nil {
			res.Error = pErr.Error()
		} else {
			res.Extraction = ex
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *openaiBatchProvider) ExtractOne(ctx context.Context, item Item) (*Extraction, error) {
	system, user := ExtractionPrompt(item.DocType, item.Text)
	raw, err := p.client.GenerateText(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return parseWithRepair(ctx, item.ChunkID, raw, p.client.GenerateText)
}

func (p *openaiBatchProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.client.Embed(ctx, texts)
}

func (p *openaiBatchProvider) GenerateAnswer(ctx context.Context, system string, user string) (string, error) {
	return p.client.GenerateText(ctx, system, user)
}
