package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
	"github.com/itish2003/legaldoc/services"
	"github.com/itish2003/legaldoc/store"
)

type fakeService struct {
	services.RAGService
	err       error
	partial   []string
	uploaded  []byte
	lastUser  string
	lastQuery string
	lastTopK  int
	scoped    logger.Logger
}

func (f *fakeService) IngestDocument(_ context.Context, ownerID, filename string, pdf []byte) (*models.DocumentInfo, error) {
	f.lastUser = ownerID
	f.uploaded = pdf
	if f.err != nil {
		return nil, f.err
	}
	return &models.DocumentInfo{ID: "doc-1", OwnerID: ownerID, Filename: filename, ChunkCount: 2}, nil
}

func (f *fakeService) ListDocuments(ctx context.Context, userID string) ([]models.DocumentInfo, error) {
	f.lastUser = userID
	f.scoped = logger.FromContext(ctx, nil)
	return []models.DocumentInfo{{ID: "doc-1", OwnerID: userID}}, f.err
}

func (f *fakeService) GetDocument(_ context.Context, userID, docID string) (*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Document{ID: docID, OwnerID: userID, Chunks: []string{"c"}, Embeddings: [][]float32{{1, 2}}}, nil
}

func (f *fakeService) DeleteDocument(_ context.Context, _, _ string) error {
	return f.err
}

func (f *fakeService) Summarize(_ context.Context, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "A lease.", nil
}

func (f *fakeService) ParagraphSummaries(_ context.Context, _, _ string) ([]string, error) {
	if f.err != nil {
		return f.partial, f.err
	}
	return []string{"one", "two"}, nil
}

func (f *fakeService) ExtractClauses(_ context.Context, _, _ string) ([]models.Clause, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Clause{{Title: "Term", Content: "- one year"}}, nil
}

func (f *fakeService) AnswerQuery(_ context.Context, userID, _, query string, topK int) (*models.QueryRAGResponse, error) {
	f.lastUser, f.lastQuery, f.lastTopK = userID, query, topK
	if f.err != nil {
		return nil, f.err
	}
	return &models.QueryRAGResponse{Answer: "Thirty days."}, nil
}

func newTestRouter(svc services.RAGService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewRAGController(svc, logger.Discard()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(router *gin.Engine, method, path, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func multipartPDF(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestRAGController_Upload(t *testing.T) {
	t.Run("Should ingest an uploaded PDF for the calling user", func(t *testing.T) {
		svc := &fakeService{}
		body, contentType := multipartPDF(t, "lease.pdf", []byte("%PDF-1.4"))
		w := do(newTestRouter(svc), http.MethodPost, "/api/v1/documents", "alice", body, contentType)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp models.IngestDocumentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "lease.pdf", resp.Document.Filename)
		assert.Equal(t, "alice", svc.lastUser)
		assert.Equal(t, []byte("%PDF-1.4"), svc.uploaded)
	})

	t.Run("Should reject non-PDF uploads", func(t *testing.T) {
		body, contentType := multipartPDF(t, "notes.txt", []byte("hello"))
		w := do(newTestRouter(&fakeService{}), http.MethodPost, "/api/v1/documents", "alice", body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should map extraction failures to 422", func(t *testing.T) {
		svc := &fakeService{err: models.NewError(models.KindExtraction, "no extractable text", nil)}
		body, contentType := multipartPDF(t, "scan.pdf", []byte("%PDF-1.4"))
		w := do(newTestRouter(svc), http.MethodPost, "/api/v1/documents", "alice", body, contentType)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "no extractable text", resp.Error)
		assert.Equal(t, models.KindExtraction, resp.Kind)
	})
}

func TestRAGController_Auth(t *testing.T) {
	t.Run("Should require the user header", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/documents", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Should list the caller's documents", func(t *testing.T) {
		svc := &fakeService{}
		w := do(newTestRouter(svc), http.MethodGet, "/api/v1/documents", "bob", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp models.ListDocumentsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "bob", svc.lastUser)
	})
}

func TestRAGController_RequestLogger(t *testing.T) {
	t.Run("Should attach a request-scoped logger and echo a generated request ID", func(t *testing.T) {
		svc := &fakeService{}
		w := do(newTestRouter(svc), http.MethodGet, "/api/v1/documents", "bob", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotNil(t, svc.scoped)
		assert.Len(t, w.Header().Get(requestIDHeader), 36)
	})

	t.Run("Should reuse the caller's request ID", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		req.Header.Set(userIDHeader, "bob")
		req.Header.Set(requestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
	})
}

func TestRAGController_Documents(t *testing.T) {
	t.Run("Should return a document without embeddings", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/documents/doc-1", "alice", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "embeddings")
		assert.Contains(t, w.Body.String(), `"chunks":["c"]`)
	})

	t.Run("Should map missing documents to 404", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{err: store.ErrNotFound}), http.MethodDelete, "/api/v1/documents/nope", "alice", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Should delete with no content", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{}), http.MethodDelete, "/api/v1/documents/doc-1", "alice", nil, "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRAGController_LLM(t *testing.T) {
	t.Run("Should answer chat questions", func(t *testing.T) {
		svc := &fakeService{}
		body := bytes.NewBufferString(`{"query":"What is the notice period?","top_k":3}`)
		w := do(newTestRouter(svc), http.MethodPost, "/api/v1/documents/doc-1/chat", "alice", body, "application/json")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Thirty days.")
		assert.Equal(t, "What is the notice period?", svc.lastQuery)
		assert.Equal(t, 3, svc.lastTopK)
	})

	t.Run("Should reject a chat request without a query", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{}), http.MethodPost, "/api/v1/documents/doc-1/chat", "alice",
			bytes.NewBufferString(`{}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should return the exact denial reason with 429", func(t *testing.T) {
		reason := "Please wait 0.7 seconds before making another request."
		svc := &fakeService{err: models.NewError(models.KindRateLimited, reason, nil)}
		w := do(newTestRouter(svc), http.MethodPost, "/api/v1/documents/doc-1/summarize", "alice", nil, "")

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, reason, resp.Error)
	})

	t.Run("Should return partial paragraph summaries with the error", func(t *testing.T) {
		svc := &fakeService{
			err:     models.NewError(models.KindRateLimited, "Daily API limit reached. Please try again tomorrow.", nil),
			partial: []string{"one"},
		}
		w := do(newTestRouter(svc), http.MethodGet, "/api/v1/documents/doc-1/paragraph-summaries", "alice", nil, "")

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp models.ParagraphSummariesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []string{"one"}, resp.Summaries)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("Should return clauses", func(t *testing.T) {
		w := do(newTestRouter(&fakeService{}), http.MethodPost, "/api/v1/documents/doc-1/clauses", "alice", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp models.ClausesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[models.ErrorKind]int{
		models.KindRateLimited:     http.StatusTooManyRequests,
		models.KindEmptyCorpus:     http.StatusUnprocessableEntity,
		models.KindExtraction:      http.StatusUnprocessableEntity,
		models.KindParseFailure:    http.StatusBadGateway,
		models.KindProviderFailure: http.StatusBadGateway,
		models.KindProviderTimeout: http.StatusGatewayTimeout,
	}
	for kind, want := range cases {
		t.Run("Should map "+string(kind), func(t *testing.T) {
			assert.Equal(t, want, statusFor(models.NewError(kind, "x", nil)))
		})
	}
	t.Run("Should default to 500", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	})
}
