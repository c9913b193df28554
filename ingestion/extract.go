package ingestion

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/kbpipe/core"
)

// Extraction is the output of the extract stage.
type Extraction struct {
	Title string
	Spans []core.Span
}

// ImageCount returns the number of image spans.
func (e *Extraction) ImageCount() int {
	n := 0
	for i := range e.Spans {
		if e.Spans[i].Kind == core.SpanImage {
			n++
		}
	}
	return n
}

// Extract splits item content into page-addressed spans.
//
// Plain text is split into pages on form feeds. Markdown yields text spans per
// block and an image span per embedded image; inline data URIs are decoded,
// other references are left for the verbalize stage to fetch. A standalone
// image yields a single image span.
func Extract(item *core.CorpusItem, content []byte) (*Extraction, error) {
	if err := core.ValidateCorpusItem(item); err != nil {
		return nil, err
	}

	switch item.ContentType {
	case core.ContentTypeText:
		return extractText(item, content)
	case core.ContentTypeMarkdown:
		return extractMarkdown(item, content)
	case core.ContentTypeImage:
		if len(content) == 0 {
			return &Extraction{Title: defaultTitle(item)}, nil
		}
		return &Extraction{
			Title: defaultTitle(item),
			Spans: []core.Span{{
				Kind:  core.SpanImage,
				Page:  1,
				Image: &core.Image{MimeType: item.MimeType, Data: content, Ref: item.ID},
			}},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, item.ContentType)
}

func extractText(item *core.CorpusItem, content []byte) (*Extraction, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", core.ErrInvalidCorpusItem, item.ID)
	}

	out := &Extraction{Title: defaultTitle(item)}
	for i, page := range bytes.Split(content, []byte{'\f'}) {
		text := strings.TrimSpace(string(page))
		if text == "" {
			continue
		}
		out.Spans = append(out.Spans, core.Span{Kind: core.SpanText, Page: i + 1, Text: text})
	}
	return out, nil
}

// defaultTitle derives a title from the item's file name.
func defaultTitle(item *core.CorpusItem) string {
	base := path.Base(item.ID)
	return strings.TrimSuffix(base, path.Ext(base))
}

// resolveImageRef returns the object key of an image referenced from itemID,
// or "" when the reference points outside the object store.
func resolveImageRef(itemID, ref string) string {
	if ref == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") {
		return ""
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if strings.HasPrefix(ref, "/") {
		return strings.TrimPrefix(path.Clean(ref), "/")
	}
	return path.Join(path.Dir(itemID), ref)
}

// decodeDataURI decodes a base64 data URI such as data:image/png;base64,....
func decodeDataURI(uri string) (*core.Image, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return &core.Image{
		MimeType: strings.TrimSuffix(meta, ";base64"),
		Data:     data,
		Ref:      "inline",
	}, true
}
