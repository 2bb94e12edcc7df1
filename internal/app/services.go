package app

import (
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/access"
	"github.com/docmesh/graphrag-backend/internal/jobs/pipeline/document_process"
	jobruntime "github.com/docmesh/graphrag-backend/internal/jobs/runtime"
	"github.com/docmesh/graphrag-backend/internal/jobs/worker"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/query"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type Services struct {
	Auth      services.AuthService
	Documents services.DocumentService
	Shares    services.ShareService
	Groups    services.GroupService
	Queries   services.QueryService
	Jobs      services.JobService

	JobNotifier services.JobNotifier
	JobRegistry *jobruntime.Registry
	JobWorker   *worker.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, c Clients) Services {
	resolver := access.NewResolver(log, r.Documents, r.Shares, r.Groups)

	var notifier services.JobNotifier = services.NoopJobNotifier{}
	if c.JobsBus != nil {
		notifier = services.NewRedisJobNotifier(log, c.JobsBus)
	}

	registry := jobruntime.NewRegistry()
	if err := registry.Register(document_process.New(db, log, r.Documents, c.Graph, c.Factory)); err != nil {
		log.Error("Failed to register job handler", "error", err)
	}

	engine := query.NewEngine(log, c.Graph, c.Factory)

	return Services{
		Auth:      services.NewAuthService(db, log, r.Users, cfg.JWTSecret),
		Documents: services.NewDocumentService(db, log, r.Documents, r.JobRuns, r.Shares, resolver, c.Graph),
		Shares:    services.NewShareService(db, log, r.Shares, r.Users, r.Groups, resolver),
		Groups:    services.NewGroupService(db, log, r.Groups, r.Users),
		Queries:   services.NewQueryService(db, log, resolver, engine),
		Jobs:      services.NewJobService(db, log, r.JobRuns),

		JobNotifier: notifier,
		JobRegistry: registry,
		JobWorker:   worker.NewWorker(db, log, r.JobRuns, registry, notifier),
	}
}
