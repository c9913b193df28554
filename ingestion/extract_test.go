package ingestion

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pumpManual = `# Pump Manual

Intro text about the pump.

## Reset

Hold the reset button. ![Reset panel](images/reset.png)

    code line
`

func TestExtract_Text(t *testing.T) {
	item := testItem("notes/breaker.txt", time.Now())
	out, err := Extract(item, []byte("page one\fpage two\f \fpage four"))
	require.NoError(t, err)

	assert.Equal(t, "breaker", out.Title)
	require.Len(t, out.Spans, 3)
	assert.Equal(t, 1, out.Spans[0].Page)
	assert.Equal(t, "page two", out.Spans[1].Text)
	assert.Equal(t, 4, out.Spans[2].Page)
	assert.Zero(t, out.ImageCount())
}

func TestExtract_InvalidUTF8(t *testing.T) {
	item := testItem("notes/bad.txt", time.Now())
	_, err := Extract(item, []byte{0xff, 0xfe})
	assert.True(t, errors.Is(err, core.ErrInvalidCorpusItem))
}

func TestExtract_Markdown(t *testing.T) {
	item := testItem("docs/pump.md", time.Now())
	out, err := Extract(item, []byte(pumpManual))
	require.NoError(t, err)

	assert.Equal(t, "Pump Manual", out.Title)
	require.Len(t, out.Spans, 6)

	assert.Equal(t, "Pump Manual", out.Spans[0].Text)
	assert.Equal(t, "Intro text about the pump.", out.Spans[1].Text)
	assert.Equal(t, "Pump Manual", out.Spans[1].SectionPath)
	assert.Equal(t, "Pump Manual > Reset", out.Spans[2].SectionPath)
	assert.Equal(t, "Hold the reset button.", out.Spans[3].Text)

	img := out.Spans[4]
	assert.Equal(t, core.SpanImage, img.Kind)
	assert.Equal(t, "images/reset.png", img.Image.Ref)
	assert.Equal(t, "image/png", img.Image.MimeType)
	assert.Equal(t, "Reset panel", img.AltText)
	assert.Empty(t, img.Image.Data)

	assert.Equal(t, "code line", out.Spans[5].Text)
	assert.Equal(t, 1, out.ImageCount())
}

func TestExtract_MarkdownDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	item := testItem("docs/inline.md", time.Now())
	out, err := Extract(item, []byte("Figure: ![](data:image/png;base64,"+payload+")"))
	require.NoError(t, err)

	require.Len(t, out.Spans, 2)
	assert.Equal(t, "inline", out.Title)
	assert.Equal(t, []byte("png-bytes"), out.Spans[1].Image.Data)
	assert.Equal(t, "image/png", out.Spans[1].Image.MimeType)
}

func TestExtract_Image(t *testing.T) {
	item := testItem("figures/wiring.png", time.Now())
	out, err := Extract(item, []byte("data"))
	require.NoError(t, err)
	require.Len(t, out.Spans, 1)
	assert.Equal(t, core.SpanImage, out.Spans[0].Kind)
	assert.Equal(t, "figures/wiring.png", out.Spans[0].Image.Ref)

	empty, err := Extract(item, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Spans)
}

func TestExtract_RejectsInvalidItem(t *testing.T) {
	item := &core.CorpusItem{ID: "x.bin", ContentType: "binary", ModifiedAt: time.Now()}
	_, err := Extract(item, []byte("x"))
	assert.True(t, errors.Is(err, core.ErrInvalidCorpusItem))
}

func TestResolveImageRef(t *testing.T) {
	tests := []struct {
		item, ref, want string
	}{
		{"docs/pump.md", "images/a.png", "docs/images/a.png"},
		{"docs/pump.md", "../shared/b.png", "shared/b.png"},
		{"docs/pump.md", "/assets/c.png?raw=1", "assets/c.png"},
		{"docs/pump.md", "https://cdn.example.com/d.png", ""},
		{"docs/pump.md", "data:image/png;base64,AAAA", ""},
		{"pump.md", "e.png#frag", "e.png"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveImageRef(tt.item, tt.ref))
		})
	}
}
