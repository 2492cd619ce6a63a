package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
)

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllama returns an embedder backed by an Ollama server's /api/embeddings endpoint.
// Ollama returns pooled vectors, so no local pooling applies.
func NewOllama(client *http.Client, baseURL, model string, batchSize int) (*embeddings.EmbedderImpl, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/api/embeddings"
	create := func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			vec, err := embedWithOllama(ctx, client, endpoint, model, text)
			if err != nil {
				return nil, classify(err)
			}
			out[i] = vec
		}
		return out, nil
	}
	// Newlines are kept: stripping them would rewrite the caller's chunk slice in place.
	return embeddings.NewEmbedder(embeddings.EmbedderClientFunc(create),
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
}

func embedWithOllama(ctx context.Context, client *http.Client, endpoint, model, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama api returned non-200 status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", model)
	}
	return ollamaResp.Embedding, nil
}
