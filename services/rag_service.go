// Package services wires the pipeline stages and the LLM orchestrator into the operations the
// HTTP layer, the inbox watcher and the retention job call.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
	"github.com/itish2003/legaldoc/retriever"
	"github.com/itish2003/legaldoc/store"
)

// RAGService is the caller-facing API over stored documents.
type RAGService interface {
	IngestDocument(ctx context.Context, ownerID, filename string, pdf []byte) (*models.DocumentInfo, error)
	// Answer ranks the given chunks against query and asks the model using the best ones as context.
	Answer(ctx context.Context, userID, query string, chunks []string, vectors [][]float32, topK int) (*models.QueryRAGResponse, error)
	AnswerQuery(ctx context.Context, userID, docID, query string, topK int) (*models.QueryRAGResponse, error)
	Summarize(ctx context.Context, userID, docID string) (string, error)
	ParagraphSummaries(ctx context.Context, userID, docID string) ([]string, error)
	ExtractClauses(ctx context.Context, userID, docID string) ([]models.Clause, error)
	ListDocuments(ctx context.Context, userID string) ([]models.DocumentInfo, error)
	GetDocument(ctx context.Context, userID, docID string) (*models.Document, error)
	DeleteDocument(ctx context.Context, userID, docID string) error
}

// Ingester produces a chunk/embedding set from PDF bytes.
type Ingester interface {
	Ingest(ctx context.Context, pdf []byte) (*IngestResult, error)
}

// ChunkSearcher ranks chunks against a query.
type ChunkSearcher interface {
	Search(ctx context.Context, query string, chunks []string, vectors [][]float32, topK int) ([]retriever.Match, error)
}

// Generator is the gated LLM surface.
type Generator interface {
	Summarize(ctx context.Context, userID, fullText string) (string, error)
	Chat(ctx context.Context, userID, question string, contextChunks []string) (string, error)
	ParagraphSummaries(ctx context.Context, userID string, chunks []string) ([]string, error)
	ExtractClauses(ctx context.Context, userID, fullText string) ([]models.Clause, error)
}

type ragServiceImpl struct {
	ingester  Ingester
	documents store.DocumentStore
	searcher  ChunkSearcher
	llm       Generator
	log       logger.Logger
}

func NewRAGService(ingester Ingester, documents store.DocumentStore, searcher ChunkSearcher, llm Generator, log logger.Logger) RAGService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ragServiceImpl{
		ingester:  ingester,
		documents: documents,
		searcher:  searcher,
		llm:       llm,
		log:       log.With("component", "SERVICE"),
	}
}

// logFor prefers the request-scoped logger the HTTP layer attaches to ctx.
func (r *ragServiceImpl) logFor(ctx context.Context) logger.Logger {
	if l := logger.FromContext(ctx, nil); l != nil {
		return l.With("component", "SERVICE")
	}
	return r.log
}

func (r *ragServiceImpl) IngestDocument(ctx context.Context, ownerID, filename string, pdf []byte) (*models.DocumentInfo, error) {
	r.logFor(ctx).Info("ingesting document", "owner", ownerID, "filename", filename, "bytes", len(pdf))
	result, err := r.ingester.Ingest(ctx, pdf)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		OwnerID:     ownerID,
		Filename:    filename,
		ContentHash: contentHash(pdf),
		Chunks:      result.Chunks,
		Embeddings:  result.Embeddings,
	}
	if _, err := r.documents.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("could not save document %s: %w", filename, err)
	}
	info := doc.Info()
	r.logFor(ctx).Info("document stored", "id", info.ID, "chunks", info.ChunkCount)
	return &info, nil
}

func (r *ragServiceImpl) Answer(ctx context.Context, userID, query string, chunks []string, vectors [][]float32, topK int) (*models.QueryRAGResponse, error) {
	matches, err := r.searcher.Search(ctx, query, chunks, vectors, topK)
	if err != nil {
		return nil, err
	}

	contextChunks := make([]string, len(matches))
	sources := make([]models.SourceDocument, len(matches))
	for i, m := range matches {
		contextChunks[i] = m.Chunk
		sources[i] = models.SourceDocument{
			Text: m.Chunk,
			Metadata: map[string]interface{}{
				"chunk_num": m.Index,
				"score":     m.Score,
			},
		}
	}
	r.logFor(ctx).Debug("retrieved context", "query", query, "chunks", len(matches))

	answer, err := r.llm.Chat(ctx, userID, query, contextChunks)
	if err != nil {
		return nil, err
	}
	return &models.QueryRAGResponse{Answer: answer, SourceDocs: sources}, nil
}

func (r *ragServiceImpl) AnswerQuery(ctx context.Context, userID, docID, query string, topK int) (*models.QueryRAGResponse, error) {
	doc, err := r.GetDocument(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	return r.Answer(ctx, userID, query, doc.Chunks, doc.Embeddings, topK)
}

func (r *ragServiceImpl) Summarize(ctx context.Context, userID, docID string) (string, error) {
	doc, err := r.GetDocument(ctx, userID, docID)
	if err != nil {
		return "", err
	}
	return r.llm.Summarize(ctx, userID, doc.FullText())
}

func (r *ragServiceImpl) ParagraphSummaries(ctx context.Context, userID, docID string) ([]string, error) {
	doc, err := r.GetDocument(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	return r.llm.ParagraphSummaries(ctx, userID, doc.Chunks)
}

func (r *ragServiceImpl) ExtractClauses(ctx context.Context, userID, docID string) ([]models.Clause, error) {
	doc, err := r.GetDocument(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	return r.llm.ExtractClauses(ctx, userID, doc.FullText())
}

func (r *ragServiceImpl) ListDocuments(ctx context.Context, userID string) ([]models.DocumentInfo, error) {
	infos, err := r.documents.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return infos, nil
}

// GetDocument loads a document owned by userID. Documents of other owners are reported as not found.
func (r *ragServiceImpl) GetDocument(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := r.documents.LoadDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	if doc.OwnerID != userID {
		r.logFor(ctx).Warn("document requested by another user", "id", docID, "user", userID)
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (r *ragServiceImpl) DeleteDocument(ctx context.Context, userID, docID string) error {
	if _, err := r.GetDocument(ctx, userID, docID); err != nil {
		return err
	}
	if err := r.documents.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	r.logFor(ctx).Info("document deleted", "id", docID)
	return nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
