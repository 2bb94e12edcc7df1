package document_process

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/docmesh/graphrag-backend/internal/chunker"
	"github.com/docmesh/graphrag-backend/internal/data/graph"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	jobrt "github.com/docmesh/graphrag-backend/internal/jobs/runtime"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/providers"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type fakeDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.Document
}

func newFakeDocs(docs ...*types.Document) *fakeDocs {
	fd := &fakeDocs{docs: map[uuid.UUID]*types.Document{}}
	for _, d := range docs {
		fd.docs[d.ID] = d
	}
	return fd
}

func (f *fakeDocs) Create(dbc dbctx.Context, docs []*types.Document) ([]*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return docs, nil
}

func (f *fakeDocs) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDocs) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Document, error) {
	var out []*types.Document
	for _, id := range ids {
		if d, err := f.GetByID(dbc, id); err == nil && d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocs) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Document, error) {
	return nil, nil
}

func (f *fakeDocs) IDsByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeDocs) AllIDs(dbc dbctx.Context) ([]uuid.UUID, error) { return nil, nil }

func (f *fakeDocs) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		applyDocUpdates(d, updates)
	}
	return nil
}

func (f *fakeDocs) UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, allowedFrom []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return false, nil
	}
	allowed := len(allowedFrom) == 0
	for _, s := range allowedFrom {
		if d.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	applyDocUpdates(d, updates)
	return true, nil
}

func (f *fakeDocs) Delete(dbc dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func applyDocUpdates(d *types.Document, updates map[string]interface{}) {
	if v, ok := updates["status"].(string); ok {
		d.Status = v
	}
	if v, ok := updates["progress"].(int); ok {
		d.Progress = v
	}
	if v, ok := updates["error"].(string); ok {
		d.Error = v
	}
}

type fakeJobs struct {
	mu     sync.Mutex
	job    *types.JobRun
	latest *types.JobRun
}

func (f *fakeJobs) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	return jobs, nil
}

func (f *fakeJobs) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	return nil, nil
}

func (f *fakeJobs) GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest != nil {
		return f.latest, nil
	}
	return f.job, nil
}

func (f *fakeJobs) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}

func (f *fakeJobs) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apply(updates)
	return nil
}

func (f *fakeJobs) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range disallowed {
		if f.job.Status == s {
			return false, nil
		}
	}
	f.apply(updates)
	return true, nil
}

func (f *fakeJobs) apply(updates map[string]interface{}) {
	if v, ok := updates["status"].(string); ok {
		f.job.Status = v
	}
	if v, ok := updates["stage"].(string); ok {
		f.job.Stage = v
	}
	if v, ok := updates["progress"].(int); ok {
		f.job.Progress = v
	}
	if v, ok := updates["error"].(string); ok {
		f.job.Error = v
	}
}

func (f *fakeJobs) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }

func (f *fakeJobs) StatusByID(dbc dbctx.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.Status, nil
}

func (f *fakeJobs) HasRunnableForEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (bool, error) {
	return false, nil
}

func (f *fakeJobs) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Status = status
}

func (f *fakeJobs) status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.Status
}

type recordingGraph struct {
	mu       sync.Mutex
	replaced int

	chunks        []*types.Chunk
	entities      []*types.Entity
	relationships []*types.Relationship
}

func (g *recordingGraph) EnsureSchema(ctx context.Context) error { return nil }

func (g *recordingGraph) ReplaceDocument(ctx context.Context, doc *types.Document, chunks []*types.Chunk, entities []*types.Entity, relationships []*types.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replaced++
	g.chunks = chunks
	g.entities = entities
	g.relationships = relationships
	return nil
}

func (g *recordingGraph) DeleteDocument(ctx context.Context, documentID uuid.UUID) error { return nil }

func (g *recordingGraph) VectorSearch(ctx context.Context, embedding []float32, topK int, documentIDs []uuid.UUID) ([]*graph.ChunkHit, error) {
	return nil, nil
}

func (g *recordingGraph) EntitySearch(ctx context.Context, terms []string, documentIDs []uuid.UUID, maxHops int) (*graph.GraphResult, error) {
	return &graph.GraphResult{}, nil
}

func (g *recordingGraph) Stats(ctx context.Context, documentID uuid.UUID) (*graph.DocumentStats, error) {
	return &graph.DocumentStats{}, nil
}

func testFixture(t *testing.T, fake *providers.Fake) (*Pipeline, *fakeDocs, *fakeJobs, *recordingGraph, *jobrt.Context, uuid.UUID) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)

	docID := uuid.New()
	doc := &types.Document{
		ID:          docID,
		OwnerUserID: uuid.New(),
		Filename:    "report.txt",
		Content:     strings.Repeat("Acme Corporation signed the supply agreement with Globex in March. ", 40),
		Status:      types.DocumentStatusProcessing,
		Model:       "fake",
		DocType:     "generic",
	}
	fd := newFakeDocs(doc)

	fg := &recordingGraph{}
	fj := &fakeJobs{job: &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: doc.OwnerUserID,
		JobType:     "document_process",
		Status:      "running",
		Payload:     datatypes.JSON(fmt.Sprintf(`{"document_id":%q}`, docID)),
	}}

	p := &Pipeline{
		log:          log.With("job", "document_process"),
		docs:         fd,
		graph:        fg,
		factory:      providers.NewFactoryFromProviders(fake),
		chunkOpt:     chunker.DefaultOptions(),
		pollInterval: time.Millisecond,
		pollTimeout:  2 * time.Second,
	}

	jc := jobrt.NewContext(context.Background(), nil, fj.job, fj, services.NoopJobNotifier{})
	return p, fd, fj, fg, jc, docID
}

func TestRunCompletesDocument(t *testing.T) {
	fake := providers.NewFake()
	fake.PollsUntilDone = 2
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	require.NoError(t, p.Run(jc))

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Empty(t, doc.Error)

	assert.Equal(t, "succeeded", fj.status())

	assert.Equal(t, 1, fg.replaced)
	require.NotEmpty(t, fg.chunks)
	for _, c := range fg.chunks {
		assert.NotEmpty(t, c.Embedding, "chunk %s missing embedding", c.ID)
	}
	assert.NotEmpty(t, fg.entities)
}

func TestRunFailsWhenAllChunksFail(t *testing.T) {
	fake := providers.NewFake()
	fake.ExtractFn = func(item providers.Item) (*providers.Extraction, error) {
		return nil, fmt.Errorf("model refused")
	}
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	require.NoError(t, p.Run(jc))

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "extract stage failed")

	assert.Equal(t, "failed", fj.status())
	assert.Zero(t, fg.replaced)
}

func TestRunFailsWhenEmbeddingFails(t *testing.T) {
	fake := providers.NewFake()
	fake.EmbedErr = fmt.Errorf("quota exhausted")
	p, fd, _, fg, jc, docID := testFixture(t, fake)

	require.NoError(t, p.Run(jc))

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "embed stage failed")
	assert.Zero(t, fg.replaced)
}

func TestRunHonorsCancelRequest(t *testing.T) {
	fake := providers.NewFake()
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	// Cancel before the run starts; the first stage boundary observes it.
	fj.setStatus("canceled")

	require.NoError(t, p.Run(jc))

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusFailed, doc.Status)
	assert.Equal(t, canceledReason, doc.Error)

	assert.Equal(t, "canceled", fj.status())
	assert.Zero(t, fg.replaced)
}

// submitCounter wraps a provider and counts batch submissions.
type submitCounter struct {
	providers.Provider
	mu      sync.Mutex
	submits int
}

func (s *submitCounter) SubmitExtraction(ctx context.Context, items []providers.Item) (string, error) {
	s.mu.Lock()
	s.submits++
	s.mu.Unlock()
	return s.Provider.SubmitExtraction(ctx, items)
}

func (s *submitCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func TestRunResumesPersistedBatchHandle(t *testing.T) {
	fake := providers.NewFake()
	p, fd, fj, _, jc, docID := testFixture(t, fake)

	// Seed the provider with an in-flight batch, as if a previous attempt
	// submitted it and crashed after persisting the handle.
	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	raw := chunker.SplitText(doc.Content, p.chunkOpt)
	items := make([]providers.Item, 0, len(raw))
	for _, c := range raw {
		items = append(items, providers.Item{ChunkID: c.ID, DocType: doc.DocType, Text: c.Text})
	}
	handle, err := fake.SubmitExtraction(context.Background(), items)
	require.NoError(t, err)
	fj.job.Result = datatypes.JSON(fmt.Sprintf(`{"extraction_handle":%q,"provider":"fake"}`, handle))

	counter := &submitCounter{Provider: fake}
	p.factory = providers.NewFactoryFromProviders(counter)

	require.NoError(t, p.Run(jc))

	doc, err = fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusCompleted, doc.Status)
	assert.Zero(t, counter.count(), "resumed run must not resubmit the batch")
}

func TestRunResubmitsWhenPersistedHandleIsStale(t *testing.T) {
	fake := providers.NewFake()
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	fj.job.Result = datatypes.JSON(`{"extraction_handle":"batch-gone","provider":"fake"}`)

	require.NoError(t, p.Run(jc))

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 1, fg.replaced)
}

func TestRunRejectsSupersededRun(t *testing.T) {
	fake := providers.NewFake()
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	// The document is Processing on behalf of a newer admission: a reclaimed
	// copy of the old failed job must not run a second pipeline against it.
	fj.latest = &types.JobRun{ID: uuid.New(), Status: "queued"}

	require.NoError(t, p.Run(jc))

	assert.Equal(t, "failed", fj.status())
	assert.Contains(t, fj.job.Error, "superseded")
	assert.Zero(t, fg.replaced)

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusProcessing, doc.Status, "the newer run's document state must be left alone")
}

func TestRunRejectsNonProcessingDocument(t *testing.T) {
	fake := providers.NewFake()
	p, fd, fj, fg, jc, docID := testFixture(t, fake)

	require.NoError(t, fd.UpdateFields(dbctx.Context{}, docID, map[string]interface{}{
		"status": types.DocumentStatusPending,
	}))

	require.NoError(t, p.Run(jc))

	assert.Equal(t, "failed", fj.status())
	assert.Zero(t, fg.replaced)

	doc, err := fd.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusPending, doc.Status)
}
