package storage

import (
	"slices"

	"github.com/poiesic/kbpipe/core"
)

// SortItemsAfter orders items by cursor and drops those at or before after.
// Items that fail validation are dropped too.
func SortItemsAfter(items []*core.CorpusItem, after core.Cursor) []*core.CorpusItem {
	out := make([]*core.CorpusItem, 0, len(items))
	for _, item := range items {
		if core.ValidateCorpusItem(item) != nil {
			continue
		}
		if after.Before(item.Cursor()) {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b *core.CorpusItem) int {
		return a.Cursor().Compare(b.Cursor())
	})
	return out
}
