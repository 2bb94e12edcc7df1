package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText(paragraphs, sentencesPer int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < sentencesPer; s++ {
			b.WriteString("The quick brown fox jumps over the lazy dog near the river bank. ")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Empty(t, SplitText("", DefaultOptions()))
	assert.Empty(t, SplitText("   \n\t  ", DefaultOptions()))
}

func TestSplitTextSingleChunk(t *testing.T) {
	text := "A short document that fits in one chunk."
	chunks := SplitText(text, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSplitTextDeterministic(t *testing.T) {
	text := sampleText(6, 8)
	a := SplitText(text, DefaultOptions())
	b := SplitText(text, DefaultOptions())
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestSplitTextReconstructsOriginal(t *testing.T) {
	text := sampleText(10, 6)
	chunks := SplitText(text, DefaultOptions())
	require.Greater(t, len(chunks), 1)

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text[c.Overlap:])
	}
	assert.Equal(t, text, b.String())
}

func TestSplitTextOverlapIsSuffixOfPrevious(t *testing.T) {
	text := sampleText(10, 6)
	chunks := SplitText(text, DefaultOptions())
	require.Greater(t, len(chunks), 1)

	assert.Zero(t, chunks[0].Overlap)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		cur := chunks[i]
		if cur.Overlap == 0 {
			continue
		}
		prefix := cur.Text[:cur.Overlap]
		assert.True(t, strings.HasSuffix(prev.Text, prefix),
			"chunk %d overlap prefix must be a suffix of chunk %d", i, i-1)
	}
}

func TestSplitTextRespectsMaxTokens(t *testing.T) {
	opts := Options{TokenChunkSize: 64, ChunkOverlap: 8, MaxTokens: 96}
	text := sampleText(12, 8)
	chunks := SplitText(text, opts)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c.Text), opts.MaxTokens,
			"chunk %d exceeds the token ceiling", i)
	}
}

func TestSplitTextIndexesSequential(t *testing.T) {
	chunks := SplitText(sampleText(8, 6), DefaultOptions())
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.ID)
	}
}

func TestChunkIDStable(t *testing.T) {
	assert.Equal(t, ChunkID(3, "hello"), ChunkID(3, "hello"))
	assert.NotEqual(t, ChunkID(3, "hello"), ChunkID(4, "hello"))
	assert.NotEqual(t, ChunkID(3, "hello"), ChunkID(3, "hello world"))
}

func TestScanWordsMultibyteSentencePunctuation(t *testing.T) {
	words := scanWords("最初の文です。 続きの文")
	require.Len(t, words, 2)
	assert.True(t, words[0].sentenceEnd, "fullwidth stop must close the sentence")
	assert.False(t, words[1].sentenceEnd)

	ascii := scanWords("Done. next")
	require.Len(t, ascii, 2)
	assert.True(t, ascii[0].sentenceEnd)
}
