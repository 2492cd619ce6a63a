package services

import (
	"context"
	"fmt"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// TextExtractor turns PDF bytes into plain text.
type TextExtractor interface {
	ExtractBytes(ctx context.Context, data []byte) (string, error)
}

// TextChunker splits texts into langchaingo documents whose metadata carries a per-text chunk_num.
type TextChunker interface {
	ChunkDocuments(texts []string, metadatas []map[string]any) ([]schema.Document, error)
}

// IngestResult is the chunk/embedding set of one PDF, index-aligned.
type IngestResult struct {
	Text       string
	Chunks     []string
	Embeddings [][]float32
}

// IngestPipeline runs extraction, chunking and embedding, in that order.
type IngestPipeline struct {
	extractor TextExtractor
	chunker   TextChunker
	embedder  embeddings.Embedder
	log       logger.Logger
}

func NewIngestPipeline(extractor TextExtractor, chunker TextChunker, embedder embeddings.Embedder, log logger.Logger) *IngestPipeline {
	if log == nil {
		log = logger.GetDefault()
	}
	return &IngestPipeline{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		log:       log.With("component", "INGEST"),
	}
}

func (p *IngestPipeline) Ingest(ctx context.Context, pdf []byte) (*IngestResult, error) {
	text, err := p.extractor.ExtractBytes(ctx, pdf)
	if err != nil {
		return nil, err
	}

	docs, err := p.chunker.ChunkDocuments([]string{text}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not chunk text: %w", err)
	}
	chunks, err := orderedChunks(docs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, models.NewError(models.KindExtraction, "no extractable text", nil)
	}
	p.log.Debug("split text into chunks", "chunks", len(chunks), "chars", len(text))

	vectors, err := p.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("could not embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	p.log.Info("ingested pdf", "bytes", len(pdf), "chunks", len(chunks))
	return &IngestResult{Text: text, Chunks: chunks, Embeddings: vectors}, nil
}

// orderedChunks places each chunk at its chunk_num, so stored order follows the chunker's numbering.
func orderedChunks(docs []schema.Document) ([]string, error) {
	chunks := make([]string, len(docs))
	seen := make([]bool, len(docs))
	for _, doc := range docs {
		n, ok := doc.Metadata["chunk_num"].(int)
		if !ok || n < 0 || n >= len(docs) || seen[n] {
			return nil, fmt.Errorf("chunk has invalid chunk_num %v", doc.Metadata["chunk_num"])
		}
		seen[n] = true
		chunks[n] = doc.PageContent
	}
	return chunks, nil
}
