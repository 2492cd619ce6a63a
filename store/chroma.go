package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

const (
	metaDocID       = "doc_id"
	metaOwnerID     = "owner_id"
	metaFilename    = "filename"
	metaContentHash = "content_hash"
	metaChunkNum    = "chunk_num"
	metaChunkCount  = "chunk_count"
	metaCreatedAt   = "created_at"
)

// ChromaStore keeps one Chroma record per chunk, with the document-level fields repeated on every
// chunk's metadata.
type ChromaStore struct {
	collection chromago.Collection
	log        logger.Logger
}

var _ DocumentStore = (*ChromaStore)(nil)

func NewChromaStore(collection chromago.Collection, log logger.Logger) *ChromaStore {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ChromaStore{collection: collection, log: log.With("component", "STORE")}
}

// OpenChromaCollection connects to Chroma at baseURL and gets or creates the named collection.
func OpenChromaCollection(ctx context.Context, baseURL, name string) (chromago.Client, chromago.Collection, error) {
	var opts []chromago.ClientOption
	if baseURL != "" {
		opts = append(opts, chromago.WithBaseURL(baseURL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	collection, err := client.GetOrCreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "legal document chunks"),
				chromago.NewStringAttribute("created_by", "legaldoc"),
			),
		),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to get or create collection %s: %w", name, err)
	}
	return client, collection, nil
}

// chunkRecord is one stored chunk, decoupled from the Chroma client types.
type chunkRecord struct {
	ID        string
	Text      string
	Embedding []float32
	Meta      map[string]any
}

func (s *ChromaStore) SaveDocument(ctx context.Context, doc *models.Document) (string, error) {
	if err := prepare(doc); err != nil {
		return "", err
	}
	if len(doc.Chunks) == 0 {
		return "", fmt.Errorf("document %s has no chunks to store", doc.ID)
	}
	records := toRecords(doc)
	ids := make([]chromago.DocumentID, len(records))
	texts := make([]string, len(records))
	vectors := make([]embeddings.Embedding, len(records))
	metas := make([]chromago.DocumentMetadata, len(records))
	for i, r := range records {
		ids[i] = chromago.DocumentID(r.ID)
		texts[i] = r.Text
		vectors[i] = embeddings.NewEmbeddingFromFloat32(r.Embedding)
		metas[i] = toChromaMetadata(r.Meta)
	}
	err := s.collection.Add(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to add document %s to chromadb: %w", doc.ID, err)
	}
	s.log.Info("stored document", "id", doc.ID, "chunks", len(records))
	return doc.ID, nil
}

func (s *ChromaStore) LoadDocument(ctx context.Context, id string) (*models.Document, error) {
	records, err := s.fetch(ctx, metaDocID, id, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return fromRecords(records)
}

func (s *ChromaStore) FindByFilename(ctx context.Context, ownerID, filename string) (*models.Document, error) {
	infos, err := s.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Filename == filename {
			return s.LoadDocument(ctx, info.ID)
		}
	}
	return nil, ErrNotFound
}

func (s *ChromaStore) ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentInfo, error) {
	key := ""
	if ownerID != "" {
		key = metaOwnerID
	}
	records, err := s.fetch(ctx, key, ownerID, false)
	if err != nil {
		return nil, err
	}
	return infosFromRecords(records), nil
}

func (s *ChromaStore) DeleteDocument(ctx context.Context, id string) error {
	records, err := s.fetch(ctx, metaDocID, id, false)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNotFound
	}
	if err := s.collection.Delete(ctx, chromago.WithWhereDelete(chromago.EqString(metaDocID, id))); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	s.log.Info("deleted document", "id", id, "chunks", len(records))
	return nil
}

// fetch gets every record whose metadata key equals value; an empty key fetches the whole collection.
func (s *ChromaStore) fetch(ctx context.Context, key, value string, withEmbeddings bool) ([]chunkRecord, error) {
	include := []chromago.Include{chromago.IncludeDocuments, chromago.IncludeMetadatas}
	if withEmbeddings {
		include = append(include, chromago.IncludeEmbeddings)
	}
	var (
		results chromago.GetResult
		err     error
	)
	if key == "" {
		results, err = s.collection.Get(ctx, chromago.WithIncludeGet(include...))
	} else {
		results, err = s.collection.Get(ctx,
			chromago.WithIncludeGet(include...),
			chromago.WithWhereGet(chromago.EqString(key, value)),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get records from chromadb: %w", err)
	}

	ids := results.GetIDs()
	docs := results.GetDocuments()
	metas := results.GetMetadatas()
	var vecs embeddings.Embeddings
	if withEmbeddings {
		vecs = results.GetEmbeddings()
	}

	records := make([]chunkRecord, len(ids))
	for i := range ids {
		r := chunkRecord{ID: string(ids[i])}
		if i < len(docs) && docs[i] != nil {
			r.Text = docs[i].ContentString()
		}
		if i < len(metas) && metas[i] != nil {
			r.Meta = metadataMap(metas[i])
		}
		if i < len(vecs) && vecs[i] != nil {
			r.Embedding = vecs[i].ContentAsFloat32()
		}
		records[i] = r
	}
	return records, nil
}

// metadataMap converts Chroma metadata to a plain map. DocumentMetadata has no public accessor
// for all values, so it goes through its JSON form.
func metadataMap(meta chromago.DocumentMetadata) map[string]any {
	out := make(map[string]any)
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(jsonBytes, &out)
	return out
}

func toChromaMetadata(meta map[string]any) chromago.DocumentMetadata {
	attrs := make([]*chromago.MetaAttribute, 0, len(meta))
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := meta[k].(type) {
		case string:
			attrs = append(attrs, chromago.NewStringAttribute(k, v))
		case int:
			attrs = append(attrs, chromago.NewIntAttribute(k, int64(v)))
		case int64:
			attrs = append(attrs, chromago.NewIntAttribute(k, v))
		}
	}
	return chromago.NewDocumentMetadata(attrs...)
}

func toRecords(doc *models.Document) []chunkRecord {
	records := make([]chunkRecord, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		meta := map[string]any{
			metaDocID:      doc.ID,
			metaOwnerID:    doc.OwnerID,
			metaFilename:   doc.Filename,
			metaChunkNum:   i,
			metaChunkCount: len(doc.Chunks),
			metaCreatedAt:  doc.CreatedAt.UnixMilli(),
		}
		if doc.ContentHash != "" {
			meta[metaContentHash] = doc.ContentHash
		}
		records[i] = chunkRecord{
			ID:        fmt.Sprintf("%s-chunk%d", doc.ID, i),
			Text:      chunk,
			Embedding: doc.Embeddings[i],
			Meta:      meta,
		}
	}
	return records
}

// fromRecords rebuilds one document from its chunk records, in chunk order.
func fromRecords(records []chunkRecord) (*models.Document, error) {
	sorted := append([]chunkRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return intMeta(sorted[i].Meta, metaChunkNum) < intMeta(sorted[j].Meta, metaChunkNum)
	})

	first := sorted[0].Meta
	doc := &models.Document{
		ID:          stringMeta(first, metaDocID),
		OwnerID:     stringMeta(first, metaOwnerID),
		Filename:    stringMeta(first, metaFilename),
		ContentHash: stringMeta(first, metaContentHash),
		CreatedAt:   time.UnixMilli(intMeta(first, metaCreatedAt)).UTC(),
		Chunks:      make([]string, len(sorted)),
		Embeddings:  make([][]float32, len(sorted)),
	}
	for i, r := range sorted {
		doc.Chunks[i] = r.Text
		doc.Embeddings[i] = r.Embedding
	}
	if want := intMeta(first, metaChunkCount); want != 0 && int(want) != len(sorted) {
		return nil, fmt.Errorf("document %s: expected %d chunks, found %d", doc.ID, want, len(sorted))
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// infosFromRecords groups chunk records into one listing entry per document, newest first.
func infosFromRecords(records []chunkRecord) []models.DocumentInfo {
	byID := make(map[string]*models.DocumentInfo)
	for _, r := range records {
		id := stringMeta(r.Meta, metaDocID)
		if id == "" {
			continue
		}
		info, ok := byID[id]
		if !ok {
			info = &models.DocumentInfo{
				ID:          id,
				OwnerID:     stringMeta(r.Meta, metaOwnerID),
				Filename:    stringMeta(r.Meta, metaFilename),
				ContentHash: stringMeta(r.Meta, metaContentHash),
				CreatedAt:   time.UnixMilli(intMeta(r.Meta, metaCreatedAt)).UTC(),
			}
			byID[id] = info
		}
		info.ChunkCount++
	}
	out := make([]models.DocumentInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sortNewestFirst(out)
	return out
}

func stringMeta(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// intMeta reads an integer that may have come back from JSON as float64.
func intMeta(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
