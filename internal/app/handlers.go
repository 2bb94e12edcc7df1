package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	httpx "github.com/docmesh/graphrag-backend/internal/http"
	httpH "github.com/docmesh/graphrag-backend/internal/http/handlers"
	httpMW "github.com/docmesh/graphrag-backend/internal/http/middleware"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Auth      *httpH.AuthHandler
	Documents *httpH.DocumentHandler
	Queries   *httpH.QueryHandler
	Shares    *httpH.ShareHandler
	Groups    *httpH.GroupHandler
	Jobs      *httpH.JobHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, s Services) Handlers {
	return Handlers{
		Health:    httpH.NewHealthHandler(log, db),
		Auth:      httpH.NewAuthHandler(log, s.Auth),
		Documents: httpH.NewDocumentHandler(log, s.Documents),
		Queries:   httpH.NewQueryHandler(log, s.Queries),
		Shares:    httpH.NewShareHandler(log, s.Shares),
		Groups:    httpH.NewGroupHandler(log, s.Groups),
		Jobs:      httpH.NewJobHandler(log, s.Jobs),
	}
}

func wireRouter(log *logger.Logger, h Handlers, authMW *httpMW.AuthMiddleware) *gin.Engine {
	return httpx.NewRouter(httpx.RouterConfig{
		Log:             log,
		AuthMiddleware:  authMW,
		HealthHandler:   h.Health,
		AuthHandler:     h.Auth,
		DocumentHandler: h.Documents,
		QueryHandler:    h.Queries,
		ShareHandler:    h.Shares,
		GroupHandler:    h.Groups,
		JobHandler:      h.Jobs,
	})
}
