// Package store persists ingested documents: their chunks, embeddings and metadata.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itish2003/legaldoc/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("document not found")

type DocumentStore interface {
	// SaveDocument stores doc and returns its ID, assigning one if empty.
	SaveDocument(ctx context.Context, doc *models.Document) (string, error)
	LoadDocument(ctx context.Context, id string) (*models.Document, error)
	// FindByFilename returns the owner's most recent document with that filename.
	FindByFilename(ctx context.Context, ownerID, filename string) (*models.Document, error)
	// ListDocuments lists ownerID's documents, newest first; an empty ownerID lists all.
	ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentInfo, error)
	DeleteDocument(ctx context.Context, id string) error
}

// prepare fills in ID and creation time and checks the chunk/embedding invariant.
func prepare(doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid document: %w", err)
	}
	return nil
}
