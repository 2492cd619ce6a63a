package store

import (
	"context"
	"sort"
	"sync"

	"github.com/itish2003/legaldoc/models"
)

// MemoryStore keeps documents in a map. Returned documents are copies.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
}

var _ DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*models.Document)}
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc *models.Document) (string, error) {
	if err := prepare(doc); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = cloneDocument(doc)
	return doc.ID, nil
}

func (s *MemoryStore) LoadDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) FindByFilename(_ context.Context, ownerID, filename string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Document
	for _, doc := range s.docs {
		if doc.OwnerID != ownerID || doc.Filename != filename {
			continue
		}
		if found == nil || doc.CreatedAt.After(found.CreatedAt) {
			found = doc
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneDocument(found), nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, ownerID string) ([]models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DocumentInfo, 0, len(s.docs))
	for _, doc := range s.docs {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		out = append(out, doc.Info())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func sortNewestFirst(infos []models.DocumentInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
}

func cloneDocument(doc *models.Document) *models.Document {
	c := *doc
	c.Chunks = append([]string(nil), doc.Chunks...)
	c.Embeddings = make([][]float32, len(doc.Embeddings))
	for i, e := range doc.Embeddings {
		c.Embeddings[i] = append([]float32(nil), e...)
	}
	return &c
}
