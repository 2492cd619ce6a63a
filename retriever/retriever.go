// Package retriever ranks stored chunks against a free-text query by cosine similarity.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/itish2003/legaldoc/models"

	"github.com/tmc/langchaingo/embeddings"
)

const DefaultTopK = 5

// Match is one ranked chunk.
type Match struct {
	Index int     `json:"index"`
	Chunk string  `json:"chunk"`
	Score float64 `json:"score"`
}

// Retriever embeds queries with the same embedder used for chunks and ranks chunks by similarity.
type Retriever struct {
	embedder embeddings.Embedder
	topK     int
}

// New returns a retriever; topK <= 0 selects DefaultTopK.
func New(embedder embeddings.Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, topK: topK}
}

func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns the topK chunks most similar to query, best first.
// topK <= 0 uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, query string, chunks []string, vectors [][]float32, topK int) ([]string, error) {
	matches, err := r.Search(ctx, query, chunks, vectors, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Chunk
	}
	return out, nil
}

// Search is Retrieve with scores and chunk positions.
func (r *Retriever) Search(ctx context.Context, query string, chunks []string, vectors [][]float32, topK int) ([]Match, error) {
	if err := checkCorpus(chunks, vectors); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = r.topK
	}
	q, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return Rank(q, chunks, vectors, topK)
}

// Rank orders chunks by cosine similarity to query. Ties keep the original chunk order.
func Rank(query []float32, chunks []string, vectors [][]float32, topK int) ([]Match, error) {
	if err := checkCorpus(chunks, vectors); err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != len(query) {
			return nil, fmt.Errorf("embedding %d has dimension %d, query has %d", i, len(v), len(query))
		}
	}

	matches := make([]Match, len(chunks))
	for i := range chunks {
		matches[i] = Match{Index: i, Chunk: chunks[i], Score: Cosine(query, vectors[i])}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func checkCorpus(chunks []string, vectors [][]float32) error {
	if len(chunks) == 0 {
		return models.NewError(models.KindEmptyCorpus, "document has no chunks to search", nil)
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("corpus mismatch: %d chunks but %d embeddings", len(chunks), len(vectors))
	}
	return nil
}

// Cosine returns the cosine similarity of a and b; a zero-norm vector scores 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
