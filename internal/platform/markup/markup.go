// Package markup renders record markdown and measures how much of a source
// text survives in a reformatted version.
package markup

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ToHTML renders markdown to HTML. Raw HTML in the source is omitted.
func ToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PlainText returns the textual content of a markdown document with all
// formatting syntax removed.
func PlainText(src string) string {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				sb.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.URL(source))
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(source))
			}
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				sb.Write(seg.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// Coverage returns the fraction of word tokens in source that also appear in
// the plain text of rendered, counting multiplicity. A source without words
// has full coverage.
func Coverage(source, rendered string) float64 {
	want := words(source)
	if len(want) == 0 {
		return 1
	}
	have := make(map[string]int)
	for _, w := range words(PlainText(rendered)) {
		have[w]++
	}
	kept := 0
	for _, w := range want {
		if have[w] > 0 {
			have[w]--
			kept++
		}
	}
	return float64(kept) / float64(len(want))
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
