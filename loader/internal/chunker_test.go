package internal

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%02d", i)
	}
	return strings.Join(words, " ")
}

func TestChunker_EmptyInput(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 50, Overlap: 10})

	for _, text := range []string{"", "   ", "\n\n\t \n"} {
		assert.Empty(t, c.Split(text), "input %q", text)
	}
}

func TestChunker_SingleChunk(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 100})

	chunks := c.Split("  short   text\twith  spaces ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text with spaces", chunks[0])
}

func TestChunker_Overlap(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 20, Overlap: 7})

	chunks := c.Split(numberedWords(12))
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, "w00 w01 w02 w03 w04", chunks[0])
	assert.Equal(t, "w03 w04 w05 w06 w07", chunks[1])
	assert.Equal(t, "w06 w07 w08 w09 w10", chunks[2])
	assert.Equal(t, "w09 w10 w11", chunks[len(chunks)-1])
}

func TestChunker_CutsAtSentenceBoundary(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 20})

	chunks := c.Split("alpha beta. gamma delta epsilon zeta")
	assert.Equal(t, []string{"alpha beta.", "gamma delta epsilon", "zeta"}, chunks)
}

func TestChunker_KeepsParagraphBreaks(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 100})

	chunks := c.Split("first paragraph\n\n  \nsecond paragraph")
	require.Len(t, chunks, 1)
	assert.Equal(t, "first paragraph\n\nsecond paragraph", chunks[0])
}

func TestChunker_HardSplitsLongWords(t *testing.T) {
	c := NewChunker(ChunkPolicy{MaxSize: 10})

	chunks := c.Split(strings.Repeat("x", 25))
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestChunker_RespectsMaxSize(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"\n\nSupercalifragilisticexpialidocious-and-then-some words follow here."

	for _, size := range []int{15, 40, 120, 500} {
		t.Run(fmt.Sprintf("max=%d", size), func(t *testing.T) {
			c := NewChunker(ChunkPolicy{MaxSize: size, Overlap: size / 3})
			chunks := c.Split(text)
			require.NotEmpty(t, chunks)
			for _, chunk := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), size)
				assert.NotEmpty(t, strings.TrimSpace(chunk))
			}
		})
	}
}

func TestChunker_Deterministic(t *testing.T) {
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 30)
	c := NewChunker(ChunkPolicy{MaxSize: 64, Overlap: 16})

	first := c.Split(text)
	for range 5 {
		assert.Equal(t, first, c.Split(text))
	}
	assert.Equal(t, first, NewChunker(ChunkPolicy{MaxSize: 64, Overlap: 16}).Split(text))
}

func TestChunker_ClampsOverlap(t *testing.T) {
	tests := []struct {
		name     string
		policy   ChunkPolicy
		expected ChunkPolicy
	}{
		{"defaults", ChunkPolicy{}, ChunkPolicy{MaxSize: DefaultChunkSize, Unit: UnitChars}},
		{"overlap too large", ChunkPolicy{MaxSize: 20, Overlap: 100}, ChunkPolicy{MaxSize: 20, Overlap: 5, Unit: UnitChars}},
		{"overlap equal", ChunkPolicy{MaxSize: 40, Overlap: 40}, ChunkPolicy{MaxSize: 40, Overlap: 10, Unit: UnitChars}},
		{"negative overlap", ChunkPolicy{MaxSize: 40, Overlap: -3}, ChunkPolicy{MaxSize: 40, Unit: UnitChars}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewChunker(tc.policy).Policy())
		})
	}
}

func TestChunker_AlwaysProgresses(t *testing.T) {
	// overlap words alone nearly fill a chunk
	c := NewChunker(ChunkPolicy{MaxSize: 12, Overlap: 11})
	chunks := c.Split("aaaaa bbbbb ccccc ddddd eeeee")
	require.NotEmpty(t, chunks)
	assert.Less(t, len(chunks), 10)
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "eeeee"))
}

func TestChunker_CustomLength(t *testing.T) {
	// every word costs one unit, separators are free
	wordCount := func(s string) int { return len(strings.Fields(s)) }
	c := NewChunker(ChunkPolicy{MaxSize: 3, Unit: UnitTokens}, WithLengthFunc(wordCount))

	chunks := c.Split("one two three four five six seven")
	assert.Equal(t, []string{"one two three", "four five six", "seven"}, chunks)
}

func TestTokenLength(t *testing.T) {
	if os.Getenv("RAG_TEST_TIKTOKEN") == "" {
		t.Skip("RAG_TEST_TIKTOKEN not set; tiktoken downloads its vocabulary on first use")
	}

	length, err := TokenLength("cl100k_base")
	require.NoError(t, err)
	assert.Positive(t, length("hello world"))

	c := NewChunker(ChunkPolicy{MaxSize: 8, Overlap: 2, Unit: UnitTokens}, WithLengthFunc(length))
	for _, chunk := range c.Split(numberedWords(40)) {
		assert.LessOrEqual(t, length(chunk), 8+len(strings.Fields(chunk)))
	}
}

func TestLengthFor(t *testing.T) {
	fn, err := LengthFor(UnitChars, "")
	require.NoError(t, err)
	assert.Equal(t, 5, fn("héllo"))

	_, err = LengthFor("pages", "")
	assert.Error(t, err)
}
