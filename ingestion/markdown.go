package ingestion

import (
	"strings"

	"github.com/poiesic/kbpipe/core"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

var markdown = goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))

// extractMarkdown walks the document's blocks in order. Headings maintain the
// section path; images become image spans following the text that holds them.
func extractMarkdown(item *core.CorpusItem, source []byte) (*Extraction, error) {
	doc := markdown.Parser().Parse(text.NewReader(source))

	out := &Extraction{Title: defaultTitle(item)}
	if tree, err := toc.Inspect(doc, source, toc.Compact(true)); err == nil && len(tree.Items) > 0 {
		if title := strings.TrimSpace(string(tree.Items[0].Title)); title != "" {
			out.Title = title
		}
	}

	var sections []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			var b strings.Builder
			inlineText(node, source, &b, nil)
			heading := strings.TrimSpace(b.String())
			if node.Level <= len(sections) {
				sections = sections[:node.Level-1]
			}
			for len(sections) < node.Level-1 {
				sections = append(sections, "")
			}
			sections = append(sections, heading)
			out.addText(heading, sections)
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.TextBlock:
			var b strings.Builder
			var images []*ast.Image
			inlineText(node, source, &b, &images)
			out.addText(b.String(), sections)
			for _, img := range images {
				out.addImage(item, img, source, sections)
			}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			var b strings.Builder
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
			out.addText(b.String(), sections)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extraction) addText(s string, sections []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	e.Spans = append(e.Spans, core.Span{
		Kind:        core.SpanText,
		Page:        1,
		Text:        s,
		SectionPath: sectionPath(sections),
	})
}

func (e *Extraction) addImage(item *core.CorpusItem, img *ast.Image, source []byte, sections []string) {
	ref := string(img.Destination)
	image, ok := decodeDataURI(ref)
	if !ok {
		image = &core.Image{Ref: ref}
		if _, mime, known := core.ContentTypeFromName(ref); known {
			image.MimeType = mime
		}
	}

	// Alt text is kept so a failed verbalization still leaves a hint.
	var alt strings.Builder
	inlineText(img, source, &alt, nil)

	e.Spans = append(e.Spans, core.Span{
		Kind:        core.SpanImage,
		Page:        1,
		Image:       image,
		Text:        "",
		SectionPath: sectionPath(sections),
		AltText:     strings.TrimSpace(alt.String()),
	})
}

func sectionPath(sections []string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " > ")
}

// inlineText appends the visible text of n's inline children to b. Images are
// collected instead of rendered when images is non-nil.
func inlineText(n ast.Node, source []byte, b *strings.Builder, images *[]*ast.Image) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch child := c.(type) {
		case *ast.Text:
			b.Write(child.Segment.Value(source))
			if child.SoftLineBreak() || child.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(child.Value)
		case *ast.AutoLink:
			b.Write(child.URL(source))
		case *ast.Image:
			if images != nil {
				*images = append(*images, child)
				continue
			}
			inlineText(child, source, b, nil)
		default:
			inlineText(child, source, b, images)
		}
	}
}
