package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmesh/graphrag-backend/internal/http/response"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type GroupHandler struct {
	log    *logger.Logger
	groups services.GroupService
}

func NewGroupHandler(baseLog *logger.Logger, groups services.GroupService) *GroupHandler {
	return &GroupHandler{log: baseLog.With("handler", "GroupHandler"), groups: groups}
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// POST /api/groups
func (h *GroupHandler) Create(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	group, err := h.groups.Create(c.Request.Context(), req.Name)
	if err != nil {
		response.RespondServiceError(c, "create_group_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"group": group})
}

type memberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// POST /api/groups/:id/members
func (h *GroupHandler) AddMember(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_group_id", err)
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	if err := h.groups.AddMember(c.Request.Context(), groupID, req.UserID); err != nil {
		response.RespondServiceError(c, "add_member_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"added": true})
}

// DELETE /api/groups/:id/members/:userId
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_group_id", err)
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	if err := h.groups.RemoveMember(c.Request.Context(), groupID, userID); err != nil {
		response.RespondServiceError(c, "remove_member_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"removed": true})
}
