package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkBufferSizeThreshold(t *testing.T) {
	b := NewChunkBuffer(10)

	assert.False(t, b.Append("hello"))
	assert.Equal(t, 5, b.Len())
	assert.True(t, b.Append(" world"), "crossing the threshold must report a flush")
	assert.Equal(t, "hello world", b.Flush())
	assert.Equal(t, 0, b.Len())
}

func TestChunkBufferFlushEmpty(t *testing.T) {
	b := NewChunkBuffer(10)
	assert.Equal(t, "", b.Flush())
	assert.Equal(t, "", b.Flush())
}

func TestChunkBufferCountsRunes(t *testing.T) {
	b := NewChunkBuffer(4)
	assert.False(t, b.Append("日本語"))
	assert.True(t, b.Append("!"))
	assert.Equal(t, "日本語!", b.Flush())
}

func TestChunkBufferPreservesWhitespace(t *testing.T) {
	b := NewChunkBuffer(100)
	b.Append("between")
	b.Append(" ")
	b.Append("words")
	assert.Equal(t, "between words", b.Flush())
}

func TestChunkBufferLargeSingleFragment(t *testing.T) {
	b := NewChunkBuffer(150)
	big := strings.Repeat("a", 400)
	assert.True(t, b.Append(big))
	assert.Equal(t, big, b.Flush())
}
