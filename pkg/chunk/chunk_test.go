package chunk

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	chunks := Split("a short document", "doc-1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-1", chunks[0].Source)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSplit_LongTextIsSplitWithSyntheticSources(t *testing.T) {
	paragraph := strings.Repeat("word ", 50) + "\n\n"
	text := strings.Repeat(paragraph, 400) // well past 3000 estimated tokens
	require.Greater(t, len(text)/4, 3000)

	chunks := Split(text, "doc-1")
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc-1_chunk_"+strconv.Itoa(i), c.Source)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplit_ChunksOverlap(t *testing.T) {
	paragraph := strings.Repeat("alpha beta gamma delta ", 50) + "\n\n"
	text := strings.Repeat(paragraph, 400)

	chunks := Split(text, "doc-1")
	require.Greater(t, len(chunks), 1)

	// consecutive chunks should share trailing/leading content from the
	// overlap window rather than cut cleanly at a hard boundary every time.
	for i := 0; i < len(chunks)-1; i++ {
		assert.NotEmpty(t, chunks[i].Text)
	}
	total := 0
	for _, c := range chunks {
		total += len(c.Text)
	}
	assert.Greater(t, total, len(text))
}

