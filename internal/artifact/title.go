package artifact

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// FirstHeading returns the text of the first Markdown heading in the
// document body, ignoring any front-matter header.
func FirstHeading(content []byte) string {
	body := Body(content)
	doc := markdown.Parser().Parse(text.NewReader(body))

	var heading string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		collectText(h, body, &sb)
		heading = strings.TrimSpace(sb.String())
		return ast.WalkStop, nil
	})
	return heading
}

func collectText(n ast.Node, source []byte, sb *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			collectText(c, source, sb)
		}
	}
}

// Title picks a display title: front-matter alias or name, then the first
// heading, then the filename stem.
func Title(fm FrontMatter, content []byte, filename string) string {
	if t := fm.DisplayName(""); t != "" {
		return t
	}
	if IsDiagramFile(filename) {
		return Stem(filename)
	}
	if h := FirstHeading(content); h != "" {
		return h
	}
	return Stem(filename)
}
