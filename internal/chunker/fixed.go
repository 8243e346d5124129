package chunker

// fixedStrategy slides a fixed-size rune window over the text. Consecutive
// windows share `overlap` runes.
type fixedStrategy struct {
	size    int
	overlap int
}

func (f *fixedStrategy) Chunk(text string) ([]Chunk, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := f.size - f.overlap
	var texts []string
	for start := 0; start < len(runes); start += step {
		end := start + f.size
		if end > len(runes) {
			end = len(runes)
		}
		texts = append(texts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return finalize(texts), nil
}
