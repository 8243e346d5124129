package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "fixed strategy",
			cfg:  Config{Strategy: StrategyFixed, Size: 100, Overlap: 10},
		},
		{
			name: "recursive strategy",
			cfg:  Config{Strategy: StrategyRecursive, Size: 100, Overlap: 10},
		},
		{
			name: "markdown strategy",
			cfg:  Config{Strategy: StrategyMarkdown, Size: 100, Overlap: 10},
		},
		{
			name:    "unknown strategy",
			cfg:     Config{Strategy: "semantic", Size: 100},
			wantErr: true,
		},
		{
			name:    "zero size",
			cfg:     Config{Strategy: StrategyFixed, Size: 0},
			wantErr: true,
		},
		{
			name:    "overlap equals size",
			cfg:     Config{Strategy: StrategyFixed, Size: 50, Overlap: 50},
			wantErr: true,
		},
		{
			name:    "negative overlap",
			cfg:     Config{Strategy: StrategyFixed, Size: 50, Overlap: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	for _, strategy := range []string{StrategyFixed, StrategyRecursive, StrategyMarkdown} {
		t.Run(strategy, func(t *testing.T) {
			s, err := New(Config{Strategy: strategy, Size: 50, Overlap: 0})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			for _, text := range []string{"", "   \n\t\n  "} {
				chunks, err := s.Chunk(text)
				if err != nil {
					t.Fatalf("Chunk(%q) error = %v", text, err)
				}
				if len(chunks) != 0 {
					t.Errorf("Chunk(%q) = %d chunks, want 0", text, len(chunks))
				}
			}
		})
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	for _, strategy := range []string{StrategyFixed, StrategyRecursive, StrategyMarkdown} {
		t.Run(strategy, func(t *testing.T) {
			s, err := New(Config{Strategy: strategy, Size: 120, Overlap: 20})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			first, err := s.Chunk(text)
			if err != nil {
				t.Fatalf("Chunk() error = %v", err)
			}
			second, err := s.Chunk(text)
			if err != nil {
				t.Fatalf("Chunk() error = %v", err)
			}

			if len(first) != len(second) {
				t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
			}
			for i := range first {
				if first[i] != second[i] {
					t.Errorf("chunk %d differs between runs", i)
				}
			}
		})
	}
}

func TestChunk_IndexAndTotal(t *testing.T) {
	s, err := New(Config{Strategy: StrategyFixed, Size: 10, Overlap: 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	chunks, err := s.Chunk(strings.Repeat("abcdefghij", 5))
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
		if c.Total != 5 {
			t.Errorf("chunk %d has Total %d, want 5", i, c.Total)
		}
	}
}

func TestChunk_RuneSafety(t *testing.T) {
	// Multi-byte text: every chunk must remain valid UTF-8 and within the
	// rune budget.
	text := strings.Repeat("日本語のテキストです。", 30)

	for _, strategy := range []string{StrategyFixed, StrategyRecursive} {
		t.Run(strategy, func(t *testing.T) {
			s, err := New(Config{Strategy: strategy, Size: 25, Overlap: 5})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			chunks, err := s.Chunk(text)
			if err != nil {
				t.Fatalf("Chunk() error = %v", err)
			}
			if len(chunks) == 0 {
				t.Fatal("got no chunks")
			}
			for i, c := range chunks {
				if !utf8.ValidString(c.Text) {
					t.Errorf("chunk %d is not valid UTF-8", i)
				}
			}
		})
	}
}

func TestRecursive_PrefersParagraphBoundaries(t *testing.T) {
	s, err := New(Config{Strategy: StrategyRecursive, Size: 40, Overlap: 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird one."
	chunks, err := s.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	for i, c := range chunks {
		if strings.Contains(strings.TrimSpace(c.Text), "paragraph here.\n\nSecond") {
			t.Errorf("chunk %d spans a paragraph boundary it should split on: %q", i, c.Text)
		}
	}
}

func TestRecursive_Overlap(t *testing.T) {
	s, err := New(Config{Strategy: StrategyRecursive, Size: 30, Overlap: 10})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	chunks, err := s.Chunk(strings.Repeat("x", 90))
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		tail := string(prev[len(prev)-10:])
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not start with the previous chunk's tail", i)
		}
	}
}

func TestMarkdown_SectionsByHeading(t *testing.T) {
	s, err := New(Config{Strategy: StrategyMarkdown, Size: 500, Overlap: 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	text := "# Intro\n\nSome intro text.\n\n## Details\n\nDetailed content here.\n\n## Usage\n\nHow to use it."
	chunks, err := s.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (one per heading section)", len(chunks))
	}
	if !strings.Contains(chunks[1].Text, "Details") {
		t.Errorf("second chunk missing its heading: %q", chunks[1].Text)
	}
}

func TestMarkdown_OversizedSectionSplits(t *testing.T) {
	s, err := New(Config{Strategy: StrategyMarkdown, Size: 60, Overlap: 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	text := "# Big\n\n" + strings.Repeat("Sentence content for the section. ", 20)
	chunks, err := s.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("oversized section produced %d chunks, want several", len(chunks))
	}
}

func TestChunk_WordCount(t *testing.T) {
	s, err := New(Config{Strategy: StrategyFixed, Size: 100, Overlap: 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	chunks, err := s.Chunk("one two three four five")
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].WordCount != 5 {
		t.Errorf("WordCount = %d, want 5", chunks[0].WordCount)
	}
}
