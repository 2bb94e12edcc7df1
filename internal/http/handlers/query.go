package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docmesh/graphrag-backend/internal/http/response"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type QueryHandler struct {
	log     *logger.Logger
	queries services.QueryService
}

func NewQueryHandler(baseLog *logger.Logger, queries services.QueryService) *QueryHandler {
	return &QueryHandler{log: baseLog.With("handler", "QueryHandler"), queries: queries}
}

// POST /api/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req services.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	resp, err := h.queries.Query(c.Request.Context(), req)
	if err != nil {
		response.RespondServiceError(c, "query_failed", err)
		return
	}
	response.RespondOK(c, resp)
}
