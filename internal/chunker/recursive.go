package chunker

import "strings"

// Separator preference order: paragraph, line, sentence, word. Hard rune
// splits happen only when a single word exceeds the chunk size.
var separators = []string{"\n\n", "\n", ". ", " "}

// recursiveStrategy splits at the coarsest boundary that fits, packing
// adjacent pieces greedily up to the target size, then carries an overlap
// tail from each chunk into the next.
type recursiveStrategy struct {
	size    int
	overlap int
}

func (r *recursiveStrategy) Chunk(text string) ([]Chunk, error) {
	segments := splitRecursive(text, r.size, separators)
	return finalize(withOverlap(segments, r.size, r.overlap)), nil
}

// splitRecursive breaks text into segments of at most size runes, preferring
// earlier separators. A piece that still exceeds the size after splitting on
// the current separator recurses with the remaining separators.
func splitRecursive(text string, size int, seps []string) []string {
	if runeLen(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, size)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, size, seps[1:])
	}

	// Reattach the separator so joining the segments reproduces the input.
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += sep
	}

	var segments []string
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		if bufLen > 0 {
			segments = append(segments, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}

	for _, part := range parts {
		partLen := runeLen(part)
		if partLen > size {
			flush()
			segments = append(segments, splitRecursive(part, size, seps[1:])...)
			continue
		}
		if bufLen+partLen > size {
			flush()
		}
		buf.WriteString(part)
		bufLen += partLen
	}
	flush()

	return segments
}

// withOverlap prefixes each segment after the first with the tail of its
// predecessor. The combined length may exceed size by at most overlap runes,
// which the embedding truncation budget absorbs.
func withOverlap(segments []string, size, overlap int) []string {
	if overlap <= 0 || len(segments) < 2 {
		return segments
	}
	out := make([]string, len(segments))
	out[0] = segments[0]
	for i := 1; i < len(segments); i++ {
		out[i] = tailRunes(segments[i-1], overlap) + segments[i]
	}
	return out
}
