// Package llm drives usage-gated calls to a text generation provider: summaries, grounded chat
// answers and two-stage clause extraction.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/itish2003/legaldoc/models"

	"google.golang.org/genai"
)

// Response is a provider's answer. TokenCount is nil when the provider does not report usage.
type Response struct {
	Text       string
	TokenCount *int
}

type Provider interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// ContentGenerator is the part of the Gemini Models API the provider uses; *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiProvider struct {
	models ContentGenerator
	model  string
}

var _ Provider = (*GeminiProvider)(nil)

func NewGeminiProvider(models ContentGenerator, model string) *GeminiProvider {
	return &GeminiProvider{models: models, model: model}
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (*Response, error) {
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini api call failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini returned no text")
	}
	out := &Response{Text: text}
	if resp.UsageMetadata != nil {
		n := int(resp.UsageMetadata.TotalTokenCount)
		out.TokenCount = &n
	}
	return out, nil
}

// classifyProviderError separates deadline expiry from other provider failures.
func classifyProviderError(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return models.NewError(models.KindProviderTimeout, "the language model did not answer in time", err)
	}
	return models.NewError(models.KindProviderFailure, "the language model request failed", err)
}
