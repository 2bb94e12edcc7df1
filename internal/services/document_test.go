package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/graphrag-backend/internal/access"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type stubDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.Document
}

func newStubDocumentRepo(docs ...*types.Document) *stubDocumentRepo {
	s := &stubDocumentRepo{docs: map[uuid.UUID]*types.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *stubDocumentRepo) Create(dbc dbctx.Context, docs []*types.Document) ([]*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return docs, nil
}

func (s *stubDocumentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (s *stubDocumentRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Document, error) {
	var out []*types.Document
	for _, id := range ids {
		if d, err := s.GetByID(dbc, id); err == nil && d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubDocumentRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Document, error) {
	return nil, nil
}

func (s *stubDocumentRepo) IDsByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubDocumentRepo) AllIDs(dbc dbctx.Context) ([]uuid.UUID, error) { return nil, nil }

func (s *stubDocumentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		applyStubDocUpdates(d, updates)
	}
	return nil
}

func (s *stubDocumentRepo) UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, allowedFrom []string, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return false, nil
	}
	allowed := len(allowedFrom) == 0
	for _, st := range allowedFrom {
		if d.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	applyStubDocUpdates(d, updates)
	return true, nil
}

func (s *stubDocumentRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func applyStubDocUpdates(d *types.Document, updates map[string]interface{}) {
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

type stubJobRunRepo struct {
	mu  sync.Mutex
	job *types.JobRun
}

func (s *stubJobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	return jobs, nil
}

func (s *stubJobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	return nil, nil
}

func (s *stubJobRunRepo) GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job, nil
}

func (s *stubJobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}

func (s *stubJobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (s *stubJobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range disallowed {
		if s.job.Status == st {
			return false, nil
		}
	}
	if v, ok := updates["status"].(string); ok {
		s.job.Status = v
	}
	if v, ok := updates["error"].(string); ok {
		s.job.Error = v
	}
	return true, nil
}

func (s *stubJobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }

func (s *stubJobRunRepo) StatusByID(dbc dbctx.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status, nil
}

func (s *stubJobRunRepo) HasRunnableForEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (bool, error) {
	return false, nil
}

type stubShareRepo struct{}

func (stubShareRepo) Upsert(dbc dbctx.Context, share *types.DocumentShare) (*types.DocumentShare, error) {
	return share, nil
}

func (stubShareRepo) Delete(dbc dbctx.Context, documentID uuid.UUID, principalType string, principalID uuid.UUID) error {
	return nil
}

func (stubShareRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error { return nil }

func (stubShareRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentShare, error) {
	return nil, nil
}

func (stubShareRepo) GetForPrincipals(dbc dbctx.Context, documentID uuid.UUID, userID uuid.UUID, groupIDs []uuid.UUID) ([]*types.DocumentShare, error) {
	return nil, nil
}

func (stubShareRepo) DocumentIDsForPrincipals(dbc dbctx.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type stubGroupStore struct{}

func (stubGroupStore) GroupIDsForUser(dbc dbctx.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func cancelFixture(t *testing.T, jobStatus string) (DocumentService, *stubDocumentRepo, *stubJobRunRepo, context.Context, uuid.UUID) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)

	owner := uuid.New()
	docID := uuid.New()
	doc := &types.Document{
		ID:          docID,
		OwnerUserID: owner,
		Filename:    "notes.txt",
		Status:      types.DocumentStatusProcessing,
	}
	docs := newStubDocumentRepo(doc)

	entityID := docID
	jobs := &stubJobRunRepo{job: &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: owner,
		JobType:     JobTypeDocumentProcess,
		EntityType:  EntityTypeDocument,
		EntityID:    &entityID,
		Status:      jobStatus,
	}}

	resolver := access.NewResolver(log, docs, stubShareRepo{}, stubGroupStore{})
	svc := NewDocumentService(nil, log, docs, jobs, stubShareRepo{}, resolver, nil)

	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{
		UserID:   owner,
		Username: "owner",
	})
	return svc, docs, jobs, ctx, docID
}

func TestCancelSettlesUnclaimedRun(t *testing.T) {
	svc, docs, jobs, ctx, docID := cancelFixture(t, "queued")

	job, err := svc.Cancel(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", job.Status)

	// No worker ever claimed the run, so the cancel itself must settle the
	// document; otherwise it polls as Processing forever.
	doc, err := docs.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusFailed, doc.Status)
	assert.Equal(t, "processing canceled by user", doc.Error)

	assert.Equal(t, "canceled", jobs.job.Status)
}

func TestCancelLeavesClaimedRunToPipeline(t *testing.T) {
	svc, docs, jobs, ctx, docID := cancelFixture(t, "running")

	job, err := svc.Cancel(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", job.Status)

	// The running pipeline observes the canceled status at its next check and
	// settles the document itself.
	doc, err := docs.GetByID(dbctx.Context{}, docID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusProcessing, doc.Status)
	assert.Empty(t, doc.Error)

	assert.Equal(t, "canceled", jobs.job.Status)
}
