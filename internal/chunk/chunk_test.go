package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func repeatWords(n int, word string) string {
	words := make([]string, n)
	for i := range words {
		words[i] = word
	}
	return strings.Join(words, " ")
}

func TestSplit_EmptyContentYieldsZeroChunks(t *testing.T) {
	require.Empty(t, Split("", Options{TargetWords: 100}))
	require.Empty(t, Split("   ", Options{TargetWords: 100}))
}

func TestSplit_SingleChunkWhenUnderTarget(t *testing.T) {
	chunks := Split("hello world foo bar", Options{TargetWords: 1000, OverlapWords: 200})
	require.Len(t, chunks, 1)
	require.Equal(t, "hello world foo bar", chunks[0].Text)
}

func TestSplit_MultipleChunksWithOverlap(t *testing.T) {
	text := repeatWords(2500, "word")
	chunks := Split(text, Options{TargetWords: 1000, OverlapWords: 200})
	require.GreaterOrEqual(t, len(chunks), 3)
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	text := repeatWords(40, "word") + ". " + repeatWords(40, "more")
	chunks := Split(text, Options{TargetWords: 45, OverlapWords: 0})
	require.NotEmpty(t, chunks)
	require.True(t, strings.HasSuffix(strings.TrimSpace(chunks[0].Text), "."), "first chunk should end at the sentence boundary: %q", chunks[0].Text)
}

func TestSplit_OverlapWordsReappearInNextChunk(t *testing.T) {
	text := repeatWords(1500, "alpha")
	chunks := Split(text, Options{TargetWords: 1000, OverlapWords: 200})
	require.GreaterOrEqual(t, len(chunks), 2)
	// The second chunk restarts 200 words before the first one's end (word
	// 800), so it carries those 200 words plus the remaining 500.
	require.Len(t, strings.Fields(chunks[1].Text), 700)
}
