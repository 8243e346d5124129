package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// markdownStrategy chunks along the document's heading structure: each
// heading starts a new section, and sections larger than the target size are
// split recursively. Overlap applies only within a section so a chunk never
// bleeds across heading boundaries.
type markdownStrategy struct {
	parser    goldmark.Markdown
	recursive recursiveStrategy
}

func newMarkdownStrategy(size, overlap int) *markdownStrategy {
	return &markdownStrategy{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
		recursive: recursiveStrategy{size: size, overlap: overlap},
	}
}

func (m *markdownStrategy) Chunk(input string) ([]Chunk, error) {
	content := []byte(input)
	if len(content) == 0 {
		return nil, nil
	}

	reader := text.NewReader(content)
	doc := m.parser.Parser().Parse(reader)
	sections := collectSections(doc, content)

	var texts []string
	for _, section := range sections {
		if runeLen(section) <= m.recursive.size {
			texts = append(texts, section)
			continue
		}
		segments := splitRecursive(section, m.recursive.size, separators)
		texts = append(texts, withOverlap(segments, m.recursive.size, m.recursive.overlap)...)
	}
	return finalize(texts), nil
}

// collectSections walks the AST grouping text by heading. Content before the
// first heading forms its own leading section.
func collectSections(doc ast.Node, content []byte) []string {
	var sections []string
	var current strings.Builder

	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			sections = append(sections, strings.TrimSpace(current.String()))
		}
		current.Reset()
	}

	ensureNewline := func() {
		s := current.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			current.WriteString("\n")
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			flush()
			current.WriteString(strings.Repeat("#", node.Level))
			current.WriteString(" ")
			current.WriteString(nodeText(node, content))
			current.WriteString("\n")
			return ast.WalkSkipChildren, nil

		case *ast.Text:
			current.Write(node.Segment.Value(content))

		case *ast.String:
			current.Write(node.Value)

		case *ast.CodeBlock:
			ensureNewline()
			writeLines(&current, node, content)
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			ensureNewline()
			writeLines(&current, node, content)
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.ListItem:
			ensureNewline()

		default:
			// Table rows from the table extension render one line per row.
			kind := n.Kind().String()
			if kind == "TableRow" || kind == "TableHeader" {
				ensureNewline()
				current.WriteString(tableRowText(n, content))
				current.WriteString("\n")
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})

	flush()
	return sections
}

// nodeText extracts the plain text of a node and its children.
func nodeText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// tableRowText joins a row's cells with pipe separators.
func tableRowText(row ast.Node, content []byte) string {
	var b strings.Builder
	cells := 0
	_ = ast.Walk(row, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind().String() == "TableCell" {
			if cells > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(nodeText(node, content))
			cells++
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func writeLines(b *strings.Builder, n ast.Node, content []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(content))
	}
}
