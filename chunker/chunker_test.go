package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// periodSplitter splits on ". " so tests control sentence boundaries exactly.
type periodSplitter struct{}

func (periodSplitter) Sentences(text string) []string {
	return strings.SplitAfter(text, ". ")
}

type fixedSplitter []string

func (f fixedSplitter) Sentences(string) []string {
	return f
}

func words(n int, word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestSentenceChunker_Chunk(t *testing.T) {
	t.Run("Should flush when the next sentence would exceed the budget", func(t *testing.T) {
		c, err := NewDefault(5)
		require.NoError(t, err)
		chunks := c.Chunk("Sentence one. Sentence two. Sentence three.")
		assert.Equal(t, []string{"Sentence one. Sentence two.", "Sentence three."}, chunks)
	})

	t.Run("Should keep every sentence in order", func(t *testing.T) {
		c := New(periodSplitter{}, 7)
		text := "a b c. d e. f g h i. j. k l m n o p."
		chunks := c.Chunk(text)
		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
	})

	t.Run("Should bound every chunk unless a single sentence is longer", func(t *testing.T) {
		c := New(periodSplitter{}, 10)
		text := words(4, "x") + ". " + words(5, "y") + ". " + words(25, "z") + ". " + words(3, "w") + "."
		chunks := c.Chunk(text)
		require.Len(t, chunks, 3)
		for _, chunk := range chunks {
			n := len(strings.Fields(chunk))
			if strings.HasPrefix(chunk, "z") {
				assert.Equal(t, 25, n)
				continue
			}
			assert.LessOrEqual(t, n, 10)
		}
		assert.Equal(t, words(4, "x")+". "+words(5, "y")+".", chunks[0])
		assert.True(t, strings.HasPrefix(chunks[1], "z"))
		assert.Equal(t, words(3, "w")+".", chunks[2])
	})

	t.Run("Should drop blank sentences", func(t *testing.T) {
		c := New(fixedSplitter{"  first.", " ", "\n", "second. "}, 10)
		assert.Equal(t, []string{"first. second."}, c.Chunk("ignored"))
		assert.Empty(t, New(fixedSplitter{" ", "\t"}, 10).Chunk("ignored"))
	})

	t.Run("Should default the budget when it is not positive", func(t *testing.T) {
		c := New(periodSplitter{}, 0)
		assert.Equal(t, DefaultMaxWords, c.MaxWords())
	})
}

func TestSentenceChunker_ChunkDocuments(t *testing.T) {
	t.Run("Should number chunks per text and copy metadata", func(t *testing.T) {
		c := New(periodSplitter{}, 2)
		docs, err := c.ChunkDocuments(
			[]string{"a b. c d. e.", "f g."},
			[]map[string]any{{"source": "one.pdf"}, {"source": "two.pdf"}},
		)
		require.NoError(t, err)
		require.Len(t, docs, 4)
		assert.Equal(t, "a b.", docs[0].PageContent)
		assert.Equal(t, 0, docs[0].Metadata["chunk_num"])
		assert.Equal(t, 2, docs[2].Metadata["chunk_num"])
		assert.Equal(t, "one.pdf", docs[2].Metadata["source"])
		assert.Equal(t, 0, docs[3].Metadata["chunk_num"])
		assert.Equal(t, "two.pdf", docs[3].Metadata["source"])
	})

	t.Run("Should reject mismatched metadata", func(t *testing.T) {
		c := New(periodSplitter{}, 2)
		_, err := c.ChunkDocuments([]string{"a.", "b."}, []map[string]any{{}})
		require.Error(t, err)
	})
}
