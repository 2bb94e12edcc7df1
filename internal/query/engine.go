// Package query executes semantic, graph and hybrid retrieval against the
// document graph and synthesizes an answer with the selected model. The
// engine is stateless per call; access control decides the document scope
// before it runs.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docmesh/graphrag-backend/internal/data/graph"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/providers"
)

const (
	SearchSemantic = "semantic"
	SearchGraph    = "graph"
	SearchHybrid   = "hybrid"

	DefaultTopK = 5
)

// Source is one retrieved piece of evidence. Kind is "chunk" or "entity";
// Score is the rank score in the requested mode (for hybrid, the weighted
// combination of VectorScore and GraphScore).
type Source struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Text        string    `json:"text,omitempty"`
	EntityType  string    `json:"entity_type,omitempty"`
	Description string    `json:"description,omitempty"`
	Score       float64   `json:"score"`
	VectorScore float64   `json:"vector_score,omitempty"`
	GraphScore  float64   `json:"graph_score,omitempty"`
}

type Request struct {
	Text        string
	SearchType  string
	DocumentIDs []uuid.UUID
	TopK        int
	Model       string
}

type Response struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	ModelUsed string   `json:"model_used"`
}

type Engine struct {
	log     *logger.Logger
	graph   graph.DocumentGraph
	factory providers.Factory

	// vectorWeight is the hybrid-mode weight on normalized vector similarity;
	// graph proximity gets the complement. Configurable because no single
	// constant fits every corpus.
	vectorWeight float64
}

func NewEngine(baseLog *logger.Logger, documentGraph graph.DocumentGraph, factory providers.Factory) *Engine {
	w := envutil.Float("HYBRID_VECTOR_WEIGHT", 0.7)
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return &Engine{
		log:          baseLog.With("component", "QueryEngine"),
		graph:        documentGraph,
		factory:      factory,
		vectorWeight: w,
	}
}

func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is required", apperrors.ErrInvalidArgument)
	}
	if len(req.DocumentIDs) == 0 {
		return &Response{Answer: "", Sources: []Source{}, ModelUsed: req.Model}, nil
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	provider, err := e.factory.ForModel(req.Model)
	if err != nil {
		return nil, err
	}

	var sources []Source
	switch req.SearchType {
	case SearchSemantic:
		sources, err = e.semantic(ctx, provider, text, topK, req.DocumentIDs)
	case SearchGraph:
		sources, err = e.graphMode(ctx, text, topK, req.DocumentIDs)
	case SearchHybrid:
		sources, err = e.hybrid(ctx, provider, text, topK, req.DocumentIDs)
	default:
		return nil, fmt.Errorf("%w: unknown search type %q", apperrors.ErrInvalidArgument, req.SearchType)
	}
	if err != nil {
		return nil, err
	}

	answer := ""
	if len(sources) > 0 {
		answer, err = e.synthesize(ctx, provider, text, sources)
		if err != nil {
			return nil, err
		}
	}

	return &Response{
		Answer:    answer,
		Sources:   sources,
		ModelUsed: provider.Name(),
	}, nil
}

func (e *Engine) semantic(ctx context.Context, provider providers.Provider, text string, topK int, scope []uuid.UUID) ([]Source, error) {
	vectors, err := provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query returned %d vectors", len(vectors))
	}

	hits, err := e.graph.VectorSearch(ctx, vectors[0], topK, scope)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, Source{
			Kind:        "chunk",
			ID:          h.ID,
			DocumentID:  h.DocumentID,
			Text:        h.Text,
			Score:       h.Score,
			VectorScore: h.Score,
		})
	}
	return sources, nil
}

func (e *Engine) graphMode(ctx context.Context, text string, topK int, scope []uuid.UUID) ([]Source, error) {
	terms := candidateTerms(text)
	result, err := e.graph.EntitySearch(ctx, terms, scope, 2)
	if err != nil {
		return nil, err
	}
	sources := graphSources(result)
	if len(sources) > topK {
		sources = sources[:topK]
	}
	return sources, nil
}

// hybrid runs the semantic and graph sub-searches concurrently and merges
// their sources: dedupe by identity, score = w*vector + (1-w)*graph, ties
// broken by vector score. Nothing eligible from either side is dropped
// before the final cut.
func (e *Engine) hybrid(ctx context.Context, provider providers.Provider, text string, topK int, scope []uuid.UUID) ([]Source, error) {
	var semanticSources, graphSrcs []Source

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticSources, err = e.semantic(gctx, provider, text, topK, scope)
		return err
	})
	g.Go(func() error {
		result, err := e.graph.EntitySearch(gctx, candidateTerms(text), scope, 2)
		if err != nil {
			return err
		}
		graphSrcs = graphSources(result)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]*Source{}
	var order []string
	upsert := func(s Source) {
		key := s.Kind + ":" + s.ID
		if existing, ok := merged[key]; ok {
			if s.VectorScore > existing.VectorScore {
				existing.VectorScore = s.VectorScore
			}
			if s.GraphScore > existing.GraphScore {
				existing.GraphScore = s.GraphScore
			}
			if existing.Text == "" {
				existing.Text = s.Text
			}
			return
		}
		clone := s
		merged[key] = &clone
		order = append(order, key)
	}
	for _, s := range semanticSources {
		upsert(s)
	}
	for _, s := range graphSrcs {
		upsert(s)
	}

	out := make([]Source, 0, len(order))
	for _, key := range order {
		s := merged[key]
		s.Score = e.vectorWeight*s.VectorScore + (1-e.vectorWeight)*s.GraphScore
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VectorScore > out[j].VectorScore
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// graphSources flattens an entity neighborhood into ranked sources: entities
// scored by proximity to the matched seed (1/(1+hops)), provenance chunks
// carrying a flat graph score.
func graphSources(result *graph.GraphResult) []Source {
	if result == nil {
		return nil
	}
	sources := make([]Source, 0, len(result.Entities)+len(result.Chunks))
	for _, ent := range result.Entities {
		sources = append(sources, Source{
			Kind:        "entity",
			ID:          ent.DocumentID.String() + ":" + strings.ToLower(ent.Name),
			DocumentID:  ent.DocumentID,
			Text:        ent.Name,
			EntityType:  ent.Type,
			Description: ent.Description,
			Score:       1.0 / float64(1+ent.Hops),
			GraphScore:  1.0 / float64(1+ent.Hops),
		})
	}
	for _, ch := range result.Chunks {
		sources = append(sources, Source{
			Kind:       "chunk",
			ID:         ch.ID,
			DocumentID: ch.DocumentID,
			Text:       ch.Text,
			Score:      0.5,
			GraphScore: 0.5,
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "why": {}, "where": {},
	"when": {}, "about": {}, "from": {}, "are": {}, "was": {}, "were": {},
	"does": {}, "did": {}, "has": {}, "have": {}, "between": {},
}

// candidateTerms pulls likely entity mentions from the query text:
// lightweight matching, no LLM call.
func candidateTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := map[string]struct{}{}
	var terms []string
	for _, f := range fields {
		w := strings.Trim(f, ".,;:!?\"'()[]")
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

const answerSystemPrompt = `You answer questions using only the provided context from a document knowledge base.
Cite concrete facts from the context. If the context does not contain the answer, say so plainly.`

func (e *Engine) synthesize(ctx context.Context, provider providers.Provider, question string, sources []Source) (string, error) {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, s := range sources {
		switch s.Kind {
		case "chunk":
			fmt.Fprintf(&b, "[%d] Excerpt: %s\n\n", i+1, s.Text)
		case "entity":
			fmt.Fprintf(&b, "[%d] Entity: %s (%s): %s\n\n", i+1, s.Text, s.EntityType, s.Description)
		}
	}
	fmt.Fprintf(&b, "Question: %s", question)

	return provider.GenerateAnswer(ctx, answerSystemPrompt, b.String())
}
