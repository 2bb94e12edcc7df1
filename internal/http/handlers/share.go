package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmesh/graphrag-backend/internal/http/response"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type ShareHandler struct {
	log    *logger.Logger
	shares services.ShareService
}

func NewShareHandler(baseLog *logger.Logger, shares services.ShareService) *ShareHandler {
	return &ShareHandler{log: baseLog.With("handler", "ShareHandler"), shares: shares}
}

type shareRequest struct {
	PrincipalType string    `json:"principal_type"`
	PrincipalID   uuid.UUID `json:"principal_id"`
	Permission    string    `json:"permission"`
}

// POST /api/documents/:id/shares
func (h *ShareHandler) Share(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	share, err := h.shares.Share(c.Request.Context(), id, req.PrincipalType, req.PrincipalID, req.Permission)
	if err != nil {
		response.RespondServiceError(c, "share_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"share": share})
}

type unshareRequest struct {
	PrincipalType string    `json:"principal_type"`
	PrincipalID   uuid.UUID `json:"principal_id"`
}

// DELETE /api/documents/:id/shares
func (h *ShareHandler) Unshare(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req unshareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	if err := h.shares.Unshare(c.Request.Context(), id, req.PrincipalType, req.PrincipalID); err != nil {
		response.RespondServiceError(c, "unshare_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"revoked": true})
}

// GET /api/documents/:id/shares
func (h *ShareHandler) ListPermissions(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	shares, err := h.shares.ListPermissions(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "list_permissions_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"shares": shares})
}
