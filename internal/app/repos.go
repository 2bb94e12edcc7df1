package app

import (
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type Repos struct {
	Users  repos.UserRepo
	Groups repos.GroupRepo
	Shares repos.ShareRepo

	Documents repos.DocumentRepo
	JobRuns   repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Users:     repos.NewUserRepo(db, log),
		Groups:    repos.NewGroupRepo(db, log),
		Shares:    repos.NewShareRepo(db, log),
		Documents: repos.NewDocumentRepo(db, log),
		JobRuns:   repos.NewJobRunRepo(db, log),
	}
}
