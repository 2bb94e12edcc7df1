package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/docmesh/graphrag-backend/internal/http/handlers"
	httpMW "github.com/docmesh/graphrag-backend/internal/http/middleware"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	AuthHandler     *httpH.AuthHandler
	DocumentHandler *httpH.DocumentHandler
	QueryHandler    *httpH.QueryHandler
	ShareHandler    *httpH.ShareHandler
	GroupHandler    *httpH.GroupHandler
	JobHandler      *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.GET("/me", cfg.AuthHandler.Me)
		}

		if cfg.DocumentHandler != nil {
			protected.POST("/documents", cfg.DocumentHandler.Upload)
			protected.GET("/documents", cfg.DocumentHandler.List)
			protected.GET("/documents/:id", cfg.DocumentHandler.Get)
			protected.GET("/documents/:id/status", cfg.DocumentHandler.Status)
			protected.POST("/documents/:id/process", cfg.DocumentHandler.Process)
			protected.POST("/documents/:id/cancel", cfg.DocumentHandler.Cancel)
			protected.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
			protected.GET("/doc-types", cfg.DocumentHandler.DocTypes)
			protected.GET("/models", cfg.DocumentHandler.Models)
		}

		if cfg.ShareHandler != nil {
			protected.POST("/documents/:id/shares", cfg.ShareHandler.Share)
			protected.DELETE("/documents/:id/shares", cfg.ShareHandler.Unshare)
			protected.GET("/documents/:id/shares", cfg.ShareHandler.ListPermissions)
		}

		if cfg.QueryHandler != nil {
			protected.POST("/query", cfg.QueryHandler.Query)
		}

		if cfg.GroupHandler != nil {
			protected.POST("/groups", cfg.GroupHandler.Create)
			protected.POST("/groups/:id/members", cfg.GroupHandler.AddMember)
			protected.DELETE("/groups/:id/members/:userId", cfg.GroupHandler.RemoveMember)
		}

		if cfg.JobHandler != nil {
			protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
		}
	}

	return r
}
