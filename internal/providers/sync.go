package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// syncMaxInFlight caps simultaneous calls for families without a native
// batch API (Kimi, DeepSeek).
const syncMaxInFlight = 3

// syncProvider emulates the batch contract for OpenAI-compatible endpoints
// that lack one: SubmitExtraction fans the items out under a small semaphore
// and PollExtraction reports completion. Handles are process-local; a worker
// restart mid-batch resubmits rather than resumes.
type syncProvider struct {
	name     string
	log      *logger.Logger
	chat     openai.Client
	embedder openai.Client
	sem      *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*syncRun
}

type syncRun struct {
	done    chan struct{}
	results []Result
	err     error
}

func NewSyncProvider(baseLog *logger.Logger, name string, chat openai.Client, embedder openai.Client) (Provider, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat client required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder client required")
	}
	return &syncProvider{
		name:     name,
		log:      baseLog.With("provider", name),
		chat:     chat,
		embedder: embedder,
		sem:      semaphore.NewWeighted(syncMaxInFlight),
		runs:     map[string]*syncRun{},
	}, nil
}

func (p *syncProvider) Name() string { return p.name }

func (p *syncProvider) SubmitExtraction(ctx context.Context, items []Item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("no items to submit")
	}

	handle := uuid.NewString()
	run := &syncRun{done: make(chan struct{})}

	p.mu.Lock()
	p.runs[handle] = run
	p.mu.Unlock()

	// Detached from the caller's context: cancellation is handled at poll
	// points by abandoning the handle, matching the batch providers where a
	// submitted batch keeps running server-side.
	go p.execute(context.Background(), run, items)

	p.log.Info("Started synchronous extraction run", "handle", handle, "items", len(items))
	return handle, nil
}

func (p *syncProvider) execute(ctx context.Context, run *syncRun, items []Item) {
	defer close(run.done)

	results := make([]Result, len(items))
	var wg sync.WaitGroup
	for i, it := range items {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			run.err = err
			return
		}
		wg.Add(1)
		go func(i int, it Item) {
			defer wg.Done()
			defer p.sem.Release(1)

			res := Result{ChunkID: it.ChunkID}
			ex, err := p.ExtractOne(ctx, it)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Extraction = ex
			}
			results[i] = res
		}(i, it)
	}
	wg.Wait()
	run.results = results
}

func (p *syncProvider) PollExtraction(ctx context.Context, handle string) (*Poll, error) {
	p.mu.Lock()
	run, ok := p.runs[handle]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown extraction handle %s", handle)
	}

	select {
	case <-run.done:
	default:
		return &Poll{Done: false}, nil
	}

	p.mu.Lock()
	delete(p.runs, handle)
	p.mu.Unlock()

	if run.err != nil {
		return nil, run.err
	}
	return &Poll{Done: true, Results: run.results}, nil
}

func (p *syncProvider) ExtractOne(ctx context.Context, item Item) (*Extraction, error) {
	system, user := ExtractionPrompt(item.DocType, item.Text)
	raw, err := p.chat.GenerateText(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return parseWithRepair(ctx, item.ChunkID, raw, p.chat.GenerateText)
}

func (p *syncProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embedder.Embed(ctx, texts)
}

func (p *syncProvider) GenerateAnswer(ctx context.Context, system string, user string) (string, error) {
	return p.chat.GenerateText(ctx, system, user)
}
