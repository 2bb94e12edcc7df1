package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/http/response"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/services"
)

const maxUploadForm = 32 << 20

type DocumentHandler struct {
	log       *logger.Logger
	documents services.DocumentService
}

func NewDocumentHandler(baseLog *logger.Logger, documents services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		log:       baseLog.With("handler", "DocumentHandler"),
		documents: documents,
	}
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return uuid.Nil, false
	}
	return id, true
}

type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// POST /api/documents
//
// Accepts either multipart form data with a "file" part or a JSON body with
// filename and content.
func (h *DocumentHandler) Upload(c *gin.Context) {
	filename, content, ok := h.readUpload(c)
	if !ok {
		return
	}
	doc, err := h.documents.Upload(c.Request.Context(), filename, content)
	if err != nil {
		response.RespondServiceError(c, "upload_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

func (h *DocumentHandler) readUpload(c *gin.Context) (string, string, bool) {
	contentType := c.ContentType()
	if contentType == "multipart/form-data" {
		if err := c.Request.ParseMultipartForm(maxUploadForm); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
			return "", "", false
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "missing_file", err)
			return "", "", false
		}
		f, err := fileHeader.Open()
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
			return "", "", false
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
			return "", "", false
		}
		return fileHeader.Filename, string(raw), true
	}

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return "", "", false
	}
	return req.Filename, req.Content, true
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, "list_documents_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "get_document_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// GET /api/documents/:id/status
func (h *DocumentHandler) Status(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	status, err := h.documents.Status(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "document_status_failed", err)
		return
	}
	response.RespondOK(c, status)
}

type processRequest struct {
	Model   string `json:"model"`
	DocType string `json:"doc_type"`
}

// POST /api/documents/:id/process
func (h *DocumentHandler) Process(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	job, err := h.documents.Process(c.Request.Context(), id, req.Model, req.DocType)
	if err != nil {
		response.RespondServiceError(c, "process_document_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	job, err := h.documents.Cancel(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "cancel_document_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, "delete_document_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

// GET /api/doc-types
func (h *DocumentHandler) DocTypes(c *gin.Context) {
	response.RespondOK(c, gin.H{"doc_types": types.SupportedDocTypes})
}

// GET /api/models
func (h *DocumentHandler) Models(c *gin.Context) {
	response.RespondOK(c, gin.H{"models": types.SupportedModels})
}
