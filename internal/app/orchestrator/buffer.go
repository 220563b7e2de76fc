package orchestrator

import (
	"strings"
	"unicode/utf8"
)

// ChunkBuffer accumulates accepted text fragments so the UI repaints at a
// readable cadence instead of once per delta. Flushing is driven by the turn
// loop: by size when the pending text crosses the threshold, by the flush
// ticker otherwise, and unconditionally at segment boundaries.
type ChunkBuffer struct {
	pending   strings.Builder
	runes     int
	threshold int
}

func NewChunkBuffer(threshold int) *ChunkBuffer {
	return &ChunkBuffer{threshold: threshold}
}

// Append adds a fragment and reports whether the buffer crossed the size
// threshold.
func (b *ChunkBuffer) Append(text string) bool {
	b.pending.WriteString(text)
	b.runes += utf8.RuneCountInString(text)
	return b.runes >= b.threshold
}

// Flush returns the pending text and resets the buffer. Flushing an empty
// buffer returns "" and is always safe.
func (b *ChunkBuffer) Flush() string {
	out := b.pending.String()
	b.pending.Reset()
	b.runes = 0
	return out
}

// Len reports the number of pending runes.
func (b *ChunkBuffer) Len() int {
	return b.runes
}
