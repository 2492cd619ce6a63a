package models

import (
	"fmt"
	"time"
)

// Document is an ingested PDF: its ordered chunks and one embedding per chunk.
type Document struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Filename    string      `json:"filename"`
	ContentHash string      `json:"content_hash,omitempty"`
	Chunks      []string    `json:"chunks"`
	Embeddings  [][]float32 `json:"embeddings,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks that chunks and embeddings line up and share one dimension.
func (d *Document) Validate() error {
	if len(d.Chunks) != len(d.Embeddings) {
		return fmt.Errorf("document %s: %d chunks but %d embeddings", d.ID, len(d.Chunks), len(d.Embeddings))
	}
	dim := -1
	for i, e := range d.Embeddings {
		if dim == -1 {
			dim = len(e)
			continue
		}
		if len(e) != dim {
			return fmt.Errorf("document %s: embedding %d has dimension %d, want %d", d.ID, i, len(e), dim)
		}
	}
	return nil
}

// FullText joins the chunks back into one text, the way summaries and clause extraction consume it.
func (d *Document) FullText() string {
	n := 0
	for _, c := range d.Chunks {
		n += len(c) + 1
	}
	buf := make([]byte, 0, n)
	for i, c := range d.Chunks {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, c...)
	}
	return string(buf)
}

// Info projects the document into its listing form.
func (d *Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Filename:    d.Filename,
		ContentHash: d.ContentHash,
		ChunkCount:  len(d.Chunks),
		CreatedAt:   d.CreatedAt,
	}
}

// DocumentInfo is the listing view of a document, without chunk bodies or vectors.
type DocumentInfo struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clause is a titled section produced by clause extraction.
type Clause struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UsageRecord counts one user's gated LLM requests for one calendar day.
type UsageRecord struct {
	UserID          string     `json:"user_id"`
	Date            string     `json:"date"`
	RequestCount    int        `json:"request_count"`
	LastRequestTime *time.Time `json:"last_request_time,omitempty"`
}
