package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/chainserve/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
		Clean:        true,
	})

	documents := []schema.Document{
		{
			PageContent: "This is a test document. It contains several sentences to demonstrate text processing. " +
				"LangSmith lets you trace, evaluate and monitor applications.",
			Metadata: map[string]any{"source": "https://example.com/guide"},
		},
		{PageContent: "   \n\t  ", Metadata: map[string]any{"source": "empty"}},
	}

	chunks, err := p.Process(documents)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.NotEmpty(t, chunk.PageContent)
		assert.LessOrEqual(t, len([]rune(chunk.PageContent)), 50)
		assert.Equal(t, "https://example.com/guide", chunk.Metadata["source"])
		assert.Equal(t, i, chunk.Metadata["chunk_index"])
	}
	assert.Contains(t, chunks[0].PageContent, "test document")

	// the source metadata is not shared with the chunks
	_, ok := documents[0].Metadata["chunk_index"]
	assert.False(t, ok)
}

func TestProcessor_Clean(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 1000, ChunkOverlap: 100, Clean: true})

	chunks, err := p.Process([]schema.Document{{
		PageContent: "Title\r\n\r\n\r\n\r\nFirst   paragraph\twith\x00 tabs.\n \n\nSecond paragraph \xff here.",
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Title\n\nFirst paragraph with tabs.\n\nSecond paragraph here.", chunks[0].PageContent)
}

func TestProcessor_MinChunkLength(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      40,
		ChunkOverlap:   0,
		MinChunkLength: 10,
	})

	chunks, err := p.Process([]schema.Document{{
		PageContent: strings.Repeat("word ", 8) + "\n\nok",
	}})
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.GreaterOrEqual(t, len([]rune(chunk.PageContent)), 10)
	}
	require.Len(t, chunks, 1)
}

func TestProcessor_Defaults(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 100})

	chunks, err := p.Process([]schema.Document{{PageContent: strings.Repeat("a", 250)}})
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.PageContent), 100)
	}
}

func TestProcessor_ZeroOverlapIsKept(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 0})

	chunks, err := p.Process([]schema.Document{{PageContent: strings.Repeat("a", 250)}})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	total := 0
	for _, chunk := range chunks {
		total += len(chunk.PageContent)
	}
	assert.Equal(t, 250, total, "chunks must not repeat text")
}
