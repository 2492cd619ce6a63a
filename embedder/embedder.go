// Package embedder turns chunks and queries into fixed-size vectors by mean pooling token states.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/itish2003/legaldoc/models"

	"github.com/tmc/langchaingo/embeddings"
)

const (
	DefaultMaxTokens = 512
	defaultBatchSize = 32
	poolingEpsilon   = 1e-9
)

// TokenStates are the per-token hidden states of one text with its attention mask.
type TokenStates struct {
	Hidden [][]float32
	Mask   []int64
}

// TokenEncoder runs a transformer over one text, truncated to maxTokens tokens.
type TokenEncoder interface {
	Encode(ctx context.Context, text string, maxTokens int) (*TokenStates, error)
	Dimension() int
}

// Embedder mean-pools an encoder's token states. It satisfies langchaingo's
// embeddings.Embedder so chunks and queries go through the same function.
type Embedder struct {
	encoder   TokenEncoder
	maxTokens int
	batchSize int
}

var (
	_ embeddings.Embedder       = (*Embedder)(nil)
	_ embeddings.EmbedderClient = (*Embedder)(nil)
)

// New returns an embedder; maxTokens <= 0 selects DefaultMaxTokens.
func New(encoder TokenEncoder, maxTokens int) *Embedder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Embedder{encoder: encoder, maxTokens: maxTokens, batchSize: defaultBatchSize}
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return embeddings.BatchedEmbed(ctx, e, texts, e.batchSize)
}

// CreateEmbedding embeds one batch.
func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, classify(err)
		}
		states, err := e.encoder.Encode(ctx, text, e.maxTokens)
		if err != nil {
			return nil, classify(fmt.Errorf("encode text %d: %w", i, err))
		}
		vec, err := MeanPool(states.Hidden, states.Mask)
		if err != nil {
			return nil, fmt.Errorf("pool text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) Dimension() int {
	return e.encoder.Dimension()
}

// MeanPool averages the hidden-state rows whose mask is 1. The divisor is
// clamped to 1e-9 so an all-zero mask yields a zero vector.
func MeanPool(hidden [][]float32, mask []int64) ([]float32, error) {
	if len(hidden) != len(mask) {
		return nil, fmt.Errorf("%d token states but %d mask entries", len(hidden), len(mask))
	}
	if len(hidden) == 0 {
		return nil, errors.New("no token states")
	}
	dim := len(hidden[0])
	sum := make([]float64, dim)
	var count float64
	for t, row := range hidden {
		if len(row) != dim {
			return nil, fmt.Errorf("token %d has dimension %d, want %d", t, len(row), dim)
		}
		if mask[t] == 0 {
			continue
		}
		m := float64(mask[t])
		for j, v := range row {
			sum[j] += float64(v) * m
		}
		count += m
	}
	count = max(count, poolingEpsilon)
	out := make([]float32, dim)
	for j := range sum {
		out[j] = float32(sum[j] / count)
	}
	return out, nil
}

// classify maps context expiry to a provider timeout and everything else to a provider failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *models.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindProviderTimeout, "embedding provider timed out", err)
	}
	return models.NewError(models.KindProviderFailure, "embedding provider failed", err)
}
