package schedule

import (
	"context"

	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// ItemIterator walks the items of a definition that sort after a cursor, in
// cursor order, in batches.
type ItemIterator struct {
	objects   storage.ObjectStore
	prefix    string
	after     core.Cursor
	batchSize int
	items     []*core.CorpusItem
	listed    bool
}

// NewItemIterator creates an iterator over items under prefix after the cursor.
// batchSize values below 1 are treated as core.DefaultRunBatchSize.
func NewItemIterator(objects storage.ObjectStore, prefix string, after core.Cursor, batchSize int) *ItemIterator {
	if batchSize <= 0 {
		batchSize = core.DefaultRunBatchSize
	}
	return &ItemIterator{
		objects:   objects,
		prefix:    prefix,
		after:     after,
		batchSize: batchSize,
	}
}

// Total lists the pending items if needed and returns their count.
func (it *ItemIterator) Total(ctx context.Context) (int, error) {
	if err := it.list(ctx); err != nil {
		return 0, err
	}
	return len(it.items), nil
}

// ForEach calls fn for each batch in order. Iteration stops on the first error
// from fn. Context cancellation is checked before each batch.
func (it *ItemIterator) ForEach(ctx context.Context, fn func([]*core.CorpusItem) error) error {
	if err := it.list(ctx); err != nil {
		return err
	}

	for i := 0; i < len(it.items); i += it.batchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := min(i+it.batchSize, len(it.items))
		if err := fn(it.items[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (it *ItemIterator) list(ctx context.Context) error {
	if it.listed {
		return nil
	}
	items, err := it.objects.List(ctx, it.prefix, it.after)
	if err != nil {
		return err
	}
	// Stores are asked for sorted output; enforce it anyway.
	it.items = storage.SortItemsAfter(items, it.after)
	it.listed = true
	return nil
}
