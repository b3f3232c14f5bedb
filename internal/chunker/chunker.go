// Package chunker splits document text into overlapping bounded windows for
// embedding and retrieval. Splitting is recursive: a descending-priority list
// of separators (paragraph, line, sentence, space, raw character) is tried
// until every unit fits the target size, then units are merged back into
// chunks with a fixed character overlap between neighbours.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Default splitting configuration. Larger chunks capture more context per
// retrieval hit; the generous overlap avoids losing facts that straddle a
// chunk boundary.
const (
	// DefaultChunkSize is the target maximum characters per chunk.
	DefaultChunkSize = 1500
	// DefaultChunkOverlap is the number of characters adjacent chunks share.
	DefaultChunkOverlap = 300
)

// separators is the descending-priority separator list. The final empty
// string means "cut at an arbitrary character" and always succeeds.
var separators = []string{"\n\n", "\n", ".", " ", ""}

// Config holds the chunker configuration.
type Config struct {
	// ChunkSize is the target maximum characters per chunk.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters adjacent chunks share.
	// Defaults to DefaultChunkOverlap if zero; a negative value disables
	// overlap entirely. Always clamped below ChunkSize.
	ChunkOverlap int
}

// Chunker splits source text blocks into rag.Chunk values.
type Chunker struct {
	// size is the resolved target maximum characters per chunk.
	size int
	// overlap is the resolved overlap between adjacent chunks.
	overlap int
}

// New constructs a Chunker from cfg, applying defaults for zero values.
func New(cfg Config) (*Chunker, error) {
	size := cfg.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	if size < 1 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", size)
	}

	overlap := cfg.ChunkOverlap
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks an ordered sequence of source text blocks (e.g. PDF pages)
// from one document. Ordinals run continuously across blocks; overlap is
// never carried across a block boundary. Empty blocks produce no chunks.
func (c *Chunker) Split(sourceID string, blocks []string) []rag.Chunk {
	var chunks []rag.Chunk
	ordinal := 0

	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}

		cores := c.mergeUnits(c.splitUnits(block, separators))
		prev := ""
		for _, core := range cores {
			text := core
			if prev != "" && c.overlap > 0 {
				text = tail(prev, c.overlap) + core
			}
			chunks = append(chunks, rag.Chunk{
				Text:     text,
				SourceID: sourceID,
				Ordinal:  ordinal,
			})
			ordinal++
			prev = core
		}
	}

	return chunks
}

// splitUnits recursively splits text into units no longer than the target
// size, trying seps in order. Each unit retains its trailing separator, so
// concatenating the returned units reproduces text exactly.
func (c *Chunker) splitUnits(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.size {
		return []string{text}
	}

	sep := seps[len(seps)-1]
	rest := []string{}
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var units []string
	for _, piece := range splitAfter(text, sep, c.size) {
		if utf8.RuneCountInString(piece) <= c.size || len(rest) == 0 {
			units = append(units, piece)
			continue
		}
		units = append(units, c.splitUnits(piece, rest)...)
	}
	return units
}

// splitAfter splits text on sep, keeping sep attached to the preceding piece.
// An empty sep cuts the text into raw windows of at most size characters.
func splitAfter(text, sep string, size int) []string {
	if sep == "" {
		// Cut on rune boundaries so multi-byte text is never split mid-rune.
		var pieces []string
		runes := []rune(text)
		for len(runes) > size {
			pieces = append(pieces, string(runes[:size]))
			runes = runes[size:]
		}
		return append(pieces, string(runes))
	}

	parts := strings.SplitAfter(text, sep)
	// SplitAfter yields a trailing "" when text ends with sep.
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// mergeUnits greedily joins consecutive units into chunk cores no longer than
// the target size. A unit that alone exceeds the size (only possible when even
// character-level splitting was bypassed) becomes its own core.
func (c *Chunker) mergeUnits(units []string) []string {
	var cores []string
	var buf strings.Builder
	bufRunes := 0

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if bufRunes > 0 && bufRunes+n > c.size {
			cores = append(cores, buf.String())
			buf.Reset()
			bufRunes = 0
		}
		buf.WriteString(u)
		bufRunes += n
	}
	if buf.Len() > 0 {
		cores = append(cores, buf.String())
	}
	return cores
}

// tail returns the last n runes of s, or all of s if it is shorter.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
