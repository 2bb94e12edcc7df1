package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	types "github.com/docmesh/graphrag-backend/internal/domain"
)

// Fake is a deterministic in-memory provider for tests. By default it
// extracts one entity per chunk and embeds texts as a hash-derived unit
// vector; the function fields override behavior per test.
type Fake struct {
	ProviderName   string
	EmbedDim       int
	PollsUntilDone int
	ExtractFn      func(item Item) (*Extraction, error)
	EmbedErr       error
	AnswerFn       func(system, user string) (string, error)
	SubmitErr      error

	mu   sync.Mutex
	runs map[string]*fakeRun
}

type fakeRun struct {
	items []Item
	polls int
}

func NewFake() *Fake {
	return &Fake{
		ProviderName: "fake",
		EmbedDim:     8,
		runs:         map[string]*fakeRun{},
	}
}

func (f *Fake) Name() string { return f.ProviderName }

func (f *Fake) SubmitExtraction(ctx context.Context, items []Item) (string, error) {
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no items to submit")
	}
	handle := uuid.NewString()
	f.mu.Lock()
	if f.runs == nil {
		f.runs = map[string]*fakeRun{}
	}
	f.runs[handle] = &fakeRun{items: items}
	f.mu.Unlock()
	return handle, nil
}

func (f *Fake) PollExtraction(ctx context.Context, handle string) (*Poll, error) {
	f.mu.Lock()
	run, ok := f.runs[handle]
	if ok {
		run.polls++
	}
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown extraction handle %s", handle)
	}
	if run.polls <= f.PollsUntilDone {
		return &Poll{Done: false}, nil
	}

	results := make([]Result, 0, len(run.items))
	for _, it := range run.items {
		res := Result{ChunkID: it.ChunkID}
		ex, err := f.ExtractOne(ctx, it)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Extraction = ex
		}
		results = append(results, res)
	}
	return &Poll{Done: true, Results: results}, nil
}

func (f *Fake) ExtractOne(ctx context.Context, item Item) (*Extraction, error) {
	if f.ExtractFn != nil {
		return f.ExtractFn(item)
	}
	name := fmt.Sprintf("entity-%s", item.ChunkID[:minInt(8, len(item.ChunkID))])
	return &Extraction{
		Entities: []*types.Entity{
			{Name: name, Type: "Concept", Description: "extracted for testing"},
		},
	}, nil
}

func (f *Fake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}
	dim := f.EmbedDim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, dim)
		h := fnv.New32a()
		_, _ = h.Write([]byte(t))
		seed := h.Sum32()
		for j := range vec {
			seed = seed*1664525 + 1013904223
			vec[j] = float32(seed%1000)/1000.0 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

func (f *Fake) GenerateAnswer(ctx context.Context, system string, user string) (string, error) {
	if f.AnswerFn != nil {
		return f.AnswerFn(system, user)
	}
	return "synthesized answer", nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
