package extractor

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const ocrInstruction = "Transcribe all legible text in this image exactly as written, one line of output per line of text. " +
	"Do not describe the image, translate, or add commentary. If there is no text, return nothing."

// ContentGenerator is the slice of the Gemini Models API used here; *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOCR transcribes images with a multimodal Gemini model.
type GeminiOCR struct {
	models ContentGenerator
	model  string
}

var _ OCREngine = (*GeminiOCR)(nil)

func NewGeminiOCR(models ContentGenerator, model string) *GeminiOCR {
	return &GeminiOCR{models: models, model: model}
}

func (g *GeminiOCR) Recognize(ctx context.Context, image []byte, mimeType string) ([]Recognition, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(image, mimeType),
		genai.NewPartFromText(ocrInstruction),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini ocr call failed: %w", err)
	}

	var out []Recognition
	for _, line := range strings.Split(resp.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Recognition{Text: line, Confidence: 1})
	}
	return out, nil
}
