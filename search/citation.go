package search

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/kbpipe/core"
)

// Metadata keys recognized on transcript sources.
const (
	MetadataVideoURL     = "video_url"
	MetadataStartSeconds = "start_seconds"
)

// timestampPattern matches the first M:SS, MM:SS or H:MM:SS mark in a transcript snippet.
var timestampPattern = regexp.MustCompile(`\b(\d{1,2}):([0-5]\d)(?::([0-5]\d))?\b`)

// NormalizeCitation converts the source reference of a hit into the common
// citation format.
//
// Transcripts carrying a video URL cite a timestamped link. The timestamp comes
// from the start_seconds metadata or, failing that, the first time mark in the
// snippet. Page-addressed sources cite "page N"; anything else cites its chunk.
func NormalizeCitation(hit *core.Hit) core.Citation {
	ref := hit.Source
	citation := core.Citation{
		DocumentID: ref.DocumentID,
		Title:      ref.Title,
	}
	if citation.DocumentID == "" {
		citation.DocumentID = ref.Source
	}

	if video := ref.Metadata[MetadataVideoURL]; video != "" {
		seconds, ok := startSeconds(ref.Metadata, hit.Snippet)
		if !ok {
			citation.Location = "video"
			citation.URL = video
			return citation
		}
		citation.Location = formatTimestamp(seconds)
		citation.URL = withTimestamp(video, seconds)
		return citation
	}

	if ref.Page > 0 {
		citation.Location = fmt.Sprintf("page %d", ref.Page)
	} else {
		citation.Location = fmt.Sprintf("chunk %d", ref.ChunkIndex+1)
	}
	if isWebURL(ref.Source) {
		citation.URL = ref.Source
	}
	return citation
}

func startSeconds(metadata map[string]string, snippet string) (int, bool) {
	if raw, ok := metadata[MetadataStartSeconds]; ok {
		if seconds, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && seconds >= 0 {
			return seconds, true
		}
	}

	m := timestampPattern.FindStringSubmatch(snippet)
	if m == nil {
		return 0, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	if m[3] == "" {
		return a*60 + b, true
	}
	c, _ := strconv.Atoi(m[3])
	return a*3600 + b*60 + c, true
}

func formatTimestamp(seconds int) string {
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// withTimestamp sets the t query parameter of a video link.
func withTimestamp(video string, seconds int) string {
	u, err := url.Parse(video)
	if err != nil {
		return video
	}
	q := u.Query()
	q.Set("t", strconv.Itoa(seconds))
	u.RawQuery = q.Encode()
	return u.String()
}

func isWebURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
