package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/docmesh/graphrag-backend/internal/data/repos/jobs"
	"github.com/docmesh/graphrag-backend/internal/data/repos/testutil"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
)

func newQueuedJob(owner, docID uuid.UUID) *types.JobRun {
	entityID := docID
	return &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: owner,
		JobType:     "document_process",
		EntityType:  "document",
		EntityID:    &entityID,
		Status:      "queued",
		Stage:       "queued",
		Payload:     datatypes.JSON(`{"document_id":"` + docID.String() + `"}`),
	}
}

func TestClaimNextRunnable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := jobs.NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job := newQueuedJob(uuid.New(), uuid.New())
	_, err := repo.Create(dbc, []*types.JobRun{job})
	require.NoError(t, err)

	claimed, err := repo.ClaimNextRunnable(dbc, 3, 30*time.Second, 2*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)

	// The claim transition is visible on re-read.
	got, err := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "running", got[0].Status)
	assert.Equal(t, 1, got[0].Attempts)
	assert.NotNil(t, got[0].LockedAt)
}

func TestUpdateFieldsUnlessStatusGuardsCancel(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := jobs.NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job := newQueuedJob(uuid.New(), uuid.New())
	_, err := repo.Create(dbc, []*types.JobRun{job})
	require.NoError(t, err)

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{"succeeded", "canceled"},
		map[string]interface{}{"status": "canceled", "error": "canceled by user"})
	require.NoError(t, err)
	assert.True(t, ok)

	// A late progress write must not resurrect a canceled run.
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{"canceled"},
		map[string]interface{}{"status": "running", "progress": 50})
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := repo.StatusByID(dbc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", status)
}

func TestGetLatestByEntity(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := jobs.NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	docID := uuid.New()

	first := newQueuedJob(owner, docID)
	first.Status = "succeeded"
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := newQueuedJob(owner, docID)

	_, err := repo.Create(dbc, []*types.JobRun{first, second})
	require.NoError(t, err)

	latest, err := repo.GetLatestByEntity(dbc, owner, "document", docID, "document_process")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}
