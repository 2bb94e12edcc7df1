// Package providers abstracts the LLM backends used for entity/relationship
// extraction, embeddings and answer synthesis. Each backing model family gets
// one implementation of the same capability interface: Claude and OpenAI use
// their native batch APIs, families without batching run synchronously under
// a small concurrency cap. Embeddings always go through the OpenAI embedding
// endpoint so every chunk vector lives in the same space regardless of the
// extraction model.
package providers

import (
	"context"

	types "github.com/docmesh/graphrag-backend/internal/domain"
)

// Item is one chunk queued for extraction.
type Item struct {
	ChunkID string
	DocType string
	Text    string
}

// Extraction is the validated output of one chunk's extraction call.
type Extraction struct {
	Entities      []*types.Entity
	Relationships []*types.Relationship
}

// Result pairs a chunk with its extraction outcome. Error is set when the
// chunk failed after all repair attempts; the pipeline decides whether that
// is fatal.
type Result struct {
	ChunkID    string
	Extraction *Extraction
	Error      string
}

// Poll reports batch progress. Results is only populated once Done.
type Poll struct {
	Done    bool
	Results []Result
}

// Provider is the uniform capability interface over one model family.
type Provider interface {
	Name() string

	// SubmitExtraction starts a batch and returns an opaque handle for polling.
	SubmitExtraction(ctx context.Context, items []Item) (handle string, err error)

	// PollExtraction reports whether the batch finished and, once done,
	// returns one Result per submitted item.
	PollExtraction(ctx context.Context, handle string) (*Poll, error)

	// ExtractOne runs a single synchronous extraction call. Used for repair
	// retries on chunks whose batch output failed validation.
	ExtractOne(ctx context.Context, item Item) (*Extraction, error)

	// Embed returns one vector per text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// GenerateAnswer synthesizes a free-form answer for the query engine.
	GenerateAnswer(ctx context.Context, system string, user string) (string, error)
}
