package repos

import (
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos/documents"
	"github.com/docmesh/graphrag-backend/internal/data/repos/jobs"
	"github.com/docmesh/graphrag-backend/internal/data/repos/users"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type UserRepo = users.UserRepo
type GroupRepo = users.GroupRepo
type ShareRepo = users.ShareRepo

type DocumentRepo = documents.DocumentRepo

type JobRunRepo = jobs.JobRunRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return users.NewUserRepo(db, baseLog) }
func NewGroupRepo(db *gorm.DB, baseLog *logger.Logger) GroupRepo {
	return users.NewGroupRepo(db, baseLog)
}
func NewShareRepo(db *gorm.DB, baseLog *logger.Logger) ShareRepo {
	return users.NewShareRepo(db, baseLog)
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return documents.NewDocumentRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
