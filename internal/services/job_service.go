package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type JobService interface {
	GetForRequestUser(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db   *gorm.DB
	log  *logger.Logger
	jobs repos.JobRunRepo
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, jobs repos.JobRunRepo) JobService {
	return &jobService{
		db:   db,
		log:  baseLog.With("service", "JobService"),
		jobs: jobs,
	}
}

func (js *jobService) GetForRequestUser(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	rd, err := requestData(ctx)
	if err != nil {
		return nil, err
	}
	found, err := js.jobs.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	// Runs are visible to their owner only; admins see everything.
	if len(found) == 0 || (!rd.IsAdmin && found[0].OwnerUserID != rd.UserID) {
		return nil, fmt.Errorf("%w: job %s", apperrors.ErrNotFound, jobID)
	}
	return found[0], nil
}
