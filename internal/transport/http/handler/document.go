package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/repository"
	"pdfchat/internal/transport/http/response"
)

type DocumentHandler struct {
	ingestService       *app.IngestService
	conversationService *app.ConversationService
	docRepo             *repository.DocumentRepository
	maxUploadBytes      int64
}

func NewDocumentHandler(
	ingestService *app.IngestService,
	conversationService *app.ConversationService,
	docRepo *repository.DocumentRepository,
	maxUploadMB int,
) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	return &DocumentHandler{
		ingestService:       ingestService,
		conversationService: conversationService,
		docRepo:             docRepo,
		maxUploadBytes:      int64(maxUploadMB) << 20,
	}
}

// Upload ingests a PDF and starts a fresh conversation grounded in it.
// The previous conversation, if any, is left to its own lifecycle; the new
// one starts with no highlighted page.
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file upload")
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large")
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidPDF, "file must be a PDF")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open uploaded file failed")
		return
	}
	defer f.Close()

	pdfBytes, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}
	if int64(len(pdfBytes)) > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large")
		return
	}

	handle, err := h.ingestService.Ingest(c.Request.Context(), pdfBytes, fileHeader.Filename)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrNotPDF):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidPDF, err.Error())
		case errors.Is(err, app.ErrUploadFailed):
			response.Error(c, http.StatusBadGateway, response.CodeUploadFailed, err.Error())
		case errors.Is(err, app.ErrProcessingFailed):
			response.Error(c, http.StatusBadGateway, response.CodeProcessingFailed, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest document failed")
		}
		return
	}

	conv := h.conversationService.StartConversation(*handle)
	response.OK(c, gin.H{
		"conversation_id": conv.ID,
		"document":        handle,
	})
}

// List returns the document registry, newest first.
func (h *DocumentHandler) List(c *gin.Context) {
	if h.docRepo == nil {
		response.OK(c, []interface{}{})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	records, err := h.docRepo.List(limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, records)
}
