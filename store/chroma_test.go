package store

import (
	"testing"
	"time"

	"github.com/itish2003/legaldoc/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonShaped mimics metadata that came back through a JSON round-trip, where numbers are float64.
func jsonShaped(r chunkRecord) chunkRecord {
	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		switch n := v.(type) {
		case int:
			meta[k] = float64(n)
		case int64:
			meta[k] = float64(n)
		default:
			meta[k] = v
		}
	}
	r.Meta = meta
	return r
}

func TestChromaRecords(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := &models.Document{
		ID:          "doc-1",
		OwnerID:     "alice",
		Filename:    "lease.pdf",
		ContentHash: "abc123",
		Chunks:      []string{"zero", "one", "two"},
		Embeddings:  [][]float32{{1, 0}, {0, 1}, {1, 1}},
		CreatedAt:   created,
	}

	t.Run("Should emit one record per chunk with stable IDs", func(t *testing.T) {
		records := toRecords(doc)
		require.Len(t, records, 3)
		assert.Equal(t, "doc-1-chunk0", records[0].ID)
		assert.Equal(t, "doc-1-chunk2", records[2].ID)
		assert.Equal(t, 2, records[2].Meta[metaChunkNum])
		assert.Equal(t, "lease.pdf", records[1].Meta[metaFilename])
		assert.Equal(t, 3, records[1].Meta[metaChunkCount])
	})

	t.Run("Should rebuild the document from shuffled records", func(t *testing.T) {
		records := toRecords(doc)
		shuffled := []chunkRecord{jsonShaped(records[2]), jsonShaped(records[0]), jsonShaped(records[1])}

		rebuilt, err := fromRecords(shuffled)
		require.NoError(t, err)
		assert.Equal(t, doc.Chunks, rebuilt.Chunks)
		assert.Equal(t, doc.Embeddings, rebuilt.Embeddings)
		assert.Equal(t, "alice", rebuilt.OwnerID)
		assert.True(t, created.Equal(rebuilt.CreatedAt))
	})

	t.Run("Should refuse a document with missing chunks", func(t *testing.T) {
		records := toRecords(doc)
		_, err := fromRecords([]chunkRecord{jsonShaped(records[0]), jsonShaped(records[1])})
		assert.Error(t, err)
	})

	t.Run("Should group records into listings", func(t *testing.T) {
		first := toRecords(doc)
		other := *doc
		other.ID = "doc-2"
		other.CreatedAt = created.Add(time.Hour)
		second := toRecords(&other)

		infos := infosFromRecords(append(first, second...))
		require.Len(t, infos, 2)
		assert.Equal(t, "doc-2", infos[0].ID)
		assert.Equal(t, 3, infos[1].ChunkCount)
		assert.Equal(t, "abc123", infos[1].ContentHash)
	})
}
