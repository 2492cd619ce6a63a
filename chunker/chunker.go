// Package chunker splits extracted document text into runs of whole sentences bounded by a word budget.
package chunker

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const DefaultMaxWords = 500

// SentenceSplitter returns the sentences of a text in order.
type SentenceSplitter interface {
	Sentences(text string) []string
}

// PunktSplitter detects sentence boundaries with the English Punkt model.
type PunktSplitter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

func NewPunktSplitter() (*PunktSplitter, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load punkt model: %w", err)
	}
	return &PunktSplitter{tokenizer: tokenizer}, nil
}

func (p *PunktSplitter) Sentences(text string) []string {
	tokens := p.tokenizer.Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, s := range tokens {
		out = append(out, s.Text)
	}
	return out
}

// SentenceChunker greedily packs sentences into chunks of at most MaxWords words.
// A single sentence longer than MaxWords becomes a chunk of its own.
type SentenceChunker struct {
	splitter SentenceSplitter
	maxWords int
}

var _ textsplitter.TextSplitter = (*SentenceChunker)(nil)

// New returns a chunker; maxWords <= 0 selects DefaultMaxWords.
func New(splitter SentenceSplitter, maxWords int) *SentenceChunker {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &SentenceChunker{splitter: splitter, maxWords: maxWords}
}

// NewDefault builds a chunker over the Punkt splitter.
func NewDefault(maxWords int) (*SentenceChunker, error) {
	splitter, err := NewPunktSplitter()
	if err != nil {
		return nil, err
	}
	return New(splitter, maxWords), nil
}

func (c *SentenceChunker) MaxWords() int {
	return c.maxWords
}

// Chunk splits text into ordered chunks. Whitespace-only input yields no chunks.
func (c *SentenceChunker) Chunk(text string) []string {
	var (
		chunks  []string
		current []string
		words   int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
		current = current[:0]
		words = 0
	}

	for _, raw := range c.splitter.Sentences(text) {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		n := len(strings.Fields(sentence))
		if words+n > c.maxWords {
			flush()
		}
		current = append(current, sentence)
		words += n
	}
	flush()
	return chunks
}

// SplitText satisfies langchaingo's TextSplitter.
func (c *SentenceChunker) SplitText(text string) ([]string, error) {
	return c.Chunk(text), nil
}

// ChunkDocuments chunks each text and attaches its metadata plus a per-text chunk_num.
func (c *SentenceChunker) ChunkDocuments(texts []string, metadatas []map[string]any) ([]schema.Document, error) {
	if len(metadatas) != 0 && len(metadatas) != len(texts) {
		return nil, textsplitter.ErrMismatchMetadatasAndText
	}
	var out []schema.Document
	for i, text := range texts {
		var meta []map[string]any
		if len(metadatas) != 0 {
			meta = metadatas[i : i+1]
		}
		docs, err := textsplitter.CreateDocuments(c, []string{text}, meta)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunk documents for text %d: %w", i, err)
		}
		for j := range docs {
			if docs[j].Metadata == nil {
				docs[j].Metadata = make(map[string]any, 1)
			}
			docs[j].Metadata["chunk_num"] = j
		}
		out = append(out, docs...)
	}
	return out, nil
}
