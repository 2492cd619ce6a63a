package controller

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
	"github.com/itish2003/legaldoc/services"
	"github.com/itish2003/legaldoc/store"
)

const (
	userIDHeader    = "X-User-ID"
	requestIDHeader = "X-Request-ID"
	userIDKey       = "user_id"
	maxUploadBytes  = 32 << 20
)

// RAGController handles the HTTP requests for the document API. It depends on the
// RAGService to perform the actual business logic.
type RAGController struct {
	ragService services.RAGService
	base       logger.Logger
	log        logger.Logger
}

func NewRAGController(service services.RAGService, log logger.Logger) *RAGController {
	if log == nil {
		log = logger.GetDefault()
	}
	return &RAGController{
		ragService: service,
		base:       log,
		log:        log.With("component", "CONTROLLER"),
	}
}

// RegisterRoutes mounts the document API on r behind the user header check.
func (c *RAGController) RegisterRoutes(r gin.IRouter) {
	docs := r.Group("/documents", RequireUser(), c.RequestLogger())
	{
		docs.POST("", c.UploadDocument)
		docs.GET("", c.ListDocuments)
		docs.GET("/:id", c.GetDocument)
		docs.DELETE("/:id", c.DeleteDocument)
		docs.POST("/:id/summarize", c.Summarize)
		docs.GET("/:id/paragraph-summaries", c.ParagraphSummaries)
		docs.POST("/:id/clauses", c.ExtractClauses)
		docs.POST("/:id/chat", c.Chat)
	}
}

// RequireUser takes the caller's identity from the X-User-ID header. Identity is trusted as given;
// authentication happens in front of this service.
func RequireUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID := strings.TrimSpace(ctx.GetHeader(userIDHeader))
		if userID == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "missing " + userIDHeader + " header"})
			return
		}
		ctx.Set(userIDKey, userID)
		ctx.Next()
	}
}

// RequestLogger attaches a logger tagged with the request ID and caller to the request context.
// An incoming X-Request-ID is reused; otherwise one is generated and echoed back.
func (c *RAGController) RequestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := strings.TrimSpace(ctx.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Header(requestIDHeader, requestID)
		l := c.base.With("request_id", requestID, "user", ctx.GetString(userIDKey))
		ctx.Request = ctx.Request.WithContext(logger.ContextWithLogger(ctx.Request.Context(), l))
		ctx.Next()
	}
}

// UploadDocument is the handler for POST /api/v1/documents (multipart field "file").
func (c *RAGController) UploadDocument(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid upload: " + err.Error()})
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "only PDF files are accepted"})
		return
	}
	if header.Size > maxUploadBytes {
		ctx.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "file too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid upload: " + err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid upload: " + err.Error()})
		return
	}

	info, err := c.ragService.IngestDocument(ctx.Request.Context(), ctx.GetString(userIDKey), filepath.Base(header.Filename), data)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, models.IngestDocumentResponse{Message: "Document ingested successfully", Document: *info})
}

// ListDocuments is the handler for GET /api/v1/documents.
func (c *RAGController) ListDocuments(ctx *gin.Context) {
	infos, err := c.ragService.ListDocuments(ctx.Request.Context(), ctx.GetString(userIDKey))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.ListDocumentsResponse{Count: len(infos), Documents: infos})
}

// GetDocument returns the document's chunks without their embeddings.
func (c *RAGController) GetDocument(ctx *gin.Context) {
	doc, err := c.ragService.GetDocument(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	doc.Embeddings = nil
	ctx.JSON(http.StatusOK, doc)
}

func (c *RAGController) DeleteDocument(ctx *gin.Context) {
	if err := c.ragService.DeleteDocument(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id")); err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *RAGController) Summarize(ctx *gin.Context) {
	summary, err := c.ragService.Summarize(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.SummaryResponse{Summary: summary})
}

// ParagraphSummaries returns the summaries produced so far alongside any error that stopped them.
func (c *RAGController) ParagraphSummaries(ctx *gin.Context) {
	summaries, err := c.ragService.ParagraphSummaries(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id"))
	if err != nil {
		if len(summaries) == 0 {
			c.respondError(ctx, err)
			return
		}
		c.log.Warn("paragraph summaries incomplete", "done", len(summaries), "err", err)
		ctx.JSON(statusFor(err), models.ParagraphSummariesResponse{Summaries: summaries, Error: models.ReasonOf(err)})
		return
	}
	ctx.JSON(http.StatusOK, models.ParagraphSummariesResponse{Summaries: summaries})
}

func (c *RAGController) ExtractClauses(ctx *gin.Context) {
	clauses, err := c.ragService.ExtractClauses(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.ClausesResponse{Count: len(clauses), Clauses: clauses})
}

// Chat is the handler for POST /api/v1/documents/:id/chat.
func (c *RAGController) Chat(ctx *gin.Context) {
	var req models.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	response, err := c.ragService.AnswerQuery(ctx.Request.Context(), ctx.GetString(userIDKey), ctx.Param("id"), req.Query, req.TopK)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

func (c *RAGController) respondError(ctx *gin.Context, err error) {
	status := statusFor(err)
	log := c.log
	if l := logger.FromContext(ctx.Request.Context(), nil); l != nil {
		log = l.With("component", "CONTROLLER")
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", ctx.FullPath(), "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", ctx.FullPath(), "status", status, "err", err)
	}

	message := models.ReasonOf(err)
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	ctx.JSON(status, models.ErrorResponse{Error: message, Kind: models.KindOf(err)})
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	switch models.KindOf(err) {
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindEmptyCorpus, models.KindExtraction:
		return http.StatusUnprocessableEntity
	case models.KindParseFailure, models.KindProviderFailure:
		return http.StatusBadGateway
	case models.KindProviderTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
