package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// chunkNamespace scopes deterministic chunk identifiers.
var chunkNamespace = uuid.MustParse("6f1c2a9e-4b7d-5c3e-9a1f-2d8e7b6c5a40")

// ContentHash returns a hex-encoded BLAKE2b-256 digest of data.
// Identical content always produces the same hash.
func ContentHash(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID returns the deterministic identifier of a chunk. Re-processing the
// same item under the same definition version yields the same IDs, so index
// writes overwrite instead of duplicating.
func ChunkID(definition, version, itemID string, index int) string {
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%d", definition, version, itemID, index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// ContentType classifies how a corpus item is extracted.
type ContentType string

const (
	// ContentTypeText is plain text. Form feeds separate pages.
	ContentTypeText ContentType = "text"
	// ContentTypeMarkdown is markdown that may reference embedded images.
	ContentTypeMarkdown ContentType = "markdown"
	// ContentTypeImage is a standalone image.
	ContentTypeImage ContentType = "image"
)

// ContentTypeFromName infers a content type from a file name extension.
func ContentTypeFromName(name string) (ContentType, string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return ContentTypeMarkdown, "text/markdown", true
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".vtt"):
		return ContentTypeText, "text/plain", true
	case strings.HasSuffix(lower, ".png"):
		return ContentTypeImage, "image/png", true
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return ContentTypeImage, "image/jpeg", true
	case strings.HasSuffix(lower, ".gif"):
		return ContentTypeImage, "image/gif", true
	case strings.HasSuffix(lower, ".webp"):
		return ContentTypeImage, "image/webp", true
	}
	return "", "", false
}

// CorpusItem is a single source document in the object store.
// Items are immutable from the pipeline's perspective.
type CorpusItem struct {
	ID          string // Object key, unique within the store
	Source      string // Source location (URL or path) used in citations
	ContentType ContentType
	MimeType    string
	ModifiedAt  time.Time
	Size        int64
	Metadata    map[string]string // Optional source metadata (e.g. "video_url")
}

// Cursor returns the iteration position of the item.
func (i *CorpusItem) Cursor() Cursor {
	return Cursor{ModifiedAt: i.ModifiedAt.UTC(), ItemID: i.ID}
}

// ImageBearing reports whether extraction may yield image spans.
func (i *CorpusItem) ImageBearing() bool {
	return i.ContentType == ContentTypeMarkdown || i.ContentType == ContentTypeImage
}

// Cursor orders corpus items by modification time, ties broken by item ID.
type Cursor struct {
	ModifiedAt time.Time
	ItemID     string
}

// IsZero reports whether the cursor precedes every item.
func (c Cursor) IsZero() bool {
	return c.ModifiedAt.IsZero() && c.ItemID == ""
}

// Compare returns -1, 0 or 1 as c sorts before, equal to or after o.
func (c Cursor) Compare(o Cursor) int {
	if cmp := c.ModifiedAt.Compare(o.ModifiedAt); cmp != 0 {
		return cmp
	}
	return strings.Compare(c.ItemID, o.ItemID)
}

// Before reports whether c sorts strictly before o.
func (c Cursor) Before(o Cursor) bool {
	return c.Compare(o) < 0
}

func (c Cursor) String() string {
	if c.IsZero() {
		return "<start>"
	}
	return c.ModifiedAt.Format(time.RFC3339Nano) + "/" + c.ItemID
}

// Checkpoint records the last committed corpus item for one version of a
// pipeline definition. It only ever moves forward.
type Checkpoint struct {
	Definition string
	Version    string
	Cursor     Cursor
	Items      int64  // Items committed under this version
	RunID      string // Run that last advanced the checkpoint
	UpdatedAt  time.Time
}

// Lease grants one holder exclusive right to run a pipeline definition.
type Lease struct {
	Definition string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// SpanKind identifies the kind of an extracted span.
type SpanKind int

const (
	// SpanText is a run of extracted text.
	SpanText SpanKind = iota + 1
	// SpanImage is an embedded image awaiting verbalization.
	SpanImage
)

// Image is raw image content referenced by a span.
type Image struct {
	MimeType string
	Data     []byte
	Ref      string // Original reference (path, URL or alt text)
}

// Span is one unit of extracted content, addressed by page.
type Span struct {
	Kind        SpanKind
	Page        int
	Text        string // Extracted text, or the verbalized description for images
	Image       *Image
	Failed      bool   // Image verbalization failed; Text is empty
	AltText     string // Author-provided image caption, if any
	SectionPath string
}

// Chunk is one embedded window of an enrichment record.
type Chunk struct {
	ID     string
	Index  int
	Page   int
	Text   string
	Vector []float32
}

// EnrichmentRecord is the output of the stage graph for one corpus item.
// It lives only until it is committed to the index.
type EnrichmentRecord struct {
	ItemID        string
	Source        string
	Title         string
	Definition    string
	Version       string
	Topic         string
	ModifiedAt    time.Time
	Chunks        []*Chunk
	ImageSpans    int
	ImageFailures int
	Metadata      map[string]string
}
