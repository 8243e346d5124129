// Package chunker splits document text into deterministic, ordered,
// overlapping segments. Identical input text and config always yield
// identical chunk boundaries and ordering; chunk_index feeds the vector ID
// scheme and must be reproducible on re-sync.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Strategy names accepted by New.
const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
	StrategyMarkdown  = "markdown"
)

// Chunk is one bounded text segment of a document.
type Chunk struct {
	Index     int
	Text      string
	WordCount int
	Total     int // chunk_total for the document, stamped on every chunk
}

// Config holds the parameters shared by all strategies.
// Size and Overlap are measured in runes; a chunk is never split inside a
// multi-byte character.
type Config struct {
	Strategy string
	Size     int
	Overlap  int
}

// Strategy splits text into chunks.
type Strategy interface {
	Chunk(text string) ([]Chunk, error)
}

// New returns the strategy named by cfg.Strategy.
func New(cfg Config) (Strategy, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be greater than 0")
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size)")
	}

	switch cfg.Strategy {
	case StrategyFixed:
		return &fixedStrategy{size: cfg.Size, overlap: cfg.Overlap}, nil
	case StrategyRecursive:
		return &recursiveStrategy{size: cfg.Size, overlap: cfg.Overlap}, nil
	case StrategyMarkdown:
		return newMarkdownStrategy(cfg.Size, cfg.Overlap), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", cfg.Strategy)
	}
}

// finalize assigns indexes, word counts and the chunk total, dropping
// whitespace-only segments first.
func finalize(texts []string) []Chunk {
	chunks := make([]Chunk, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      t,
			WordCount: len(strings.Fields(t)),
		})
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// tailRunes returns the last n runes of s, never splitting a character.
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// hardSplit cuts text into pieces of at most size runes.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
