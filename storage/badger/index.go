package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// defaultKeywordWeight is used when a query leaves KeywordWeight unset.
const defaultKeywordWeight = 0.3

// IndexRepository is a local implementation of storage.IndexRepository.
// Search scans a collection and blends dot-product similarity with keyword
// overlap; it suits small corpora and tests.
type IndexRepository struct {
	backend *Backend
}

var _ storage.IndexRepository = (*IndexRepository)(nil)

// NewIndexRepository creates a new IndexRepository.
func NewIndexRepository(backend *Backend) *IndexRepository {
	return &IndexRepository{backend: backend}
}

// EnsureCollection records the vector dimension of a collection.
// An existing collection with a different dimension is an error.
func (r *IndexRepository) EnsureCollection(ctx context.Context, collection string, dimensions int) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		existing, err := getValue(tx, makeCollectionKey(collection), decodeDimensions)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			buf := make([]byte, varint.Int64.Size(int64(dimensions)))
			varint.Int64.Marshal(int64(dimensions), buf)
			return tx.Set(makeCollectionKey(collection), buf)
		case err != nil:
			return err
		case existing != dimensions:
			return fmt.Errorf("%w: collection %s has dimension %d, not %d",
				core.ErrDimensionMismatch, collection, existing, dimensions)
		}
		return nil
	})
}

// Upsert writes records by ID in a single transaction.
func (r *IndexRepository) Upsert(ctx context.Context, collection string, records []*storage.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		dimensions, err := getValue(tx, makeCollectionKey(collection), decodeDimensions)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: collection %s does not exist", storage.ErrInvalidQuery, collection)
		}
		if err != nil {
			return err
		}
		for _, record := range records {
			if len(record.Vector) != dimensions {
				return fmt.Errorf("%w: record %s has dimension %d, collection %s expects %d",
					core.ErrDimensionMismatch, record.ID, len(record.Vector), collection, dimensions)
			}
			if err := tx.Set(makeIndexRecordKey(collection, record.ID), storage.MarshalIndexRecord(record)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search scores every record of the requested collections and returns the top hits.
func (r *IndexRepository) Search(ctx context.Context, query *core.SearchQuery) ([]*core.Hit, error) {
	if query == nil || len(query.Collections) == 0 {
		return nil, fmt.Errorf("%w: no collections", storage.ErrInvalidQuery)
	}
	if query.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", storage.ErrInvalidQuery)
	}
	keywordWeight := query.KeywordWeight
	if keywordWeight <= 0 || keywordWeight > 1 {
		keywordWeight = defaultKeywordWeight
	}
	if len(query.Vector) == 0 {
		keywordWeight = 1
	}

	var hits []*core.Hit
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		for _, collection := range query.Collections {
			if err := ctx.Err(); err != nil {
				return err
			}
			opts := badger.DefaultIteratorOptions
			opts.Prefix = makePartialIndexRecordKey(collection)
			iter := tx.NewIterator(opts)

			for iter.Rewind(); iter.Valid(); iter.Next() {
				var record *storage.IndexRecord
				err := iter.Item().Value(func(val []byte) error {
					var err error
					record, err = storage.UnmarshalIndexRecord(val)
					return err
				})
				if err != nil {
					iter.Close()
					return err
				}

				keyword := core.KeywordScore(record.Text, query.Text)
				var semantic float32
				if len(query.Vector) > 0 {
					semantic = core.DotProduct(query.Vector, record.Vector)
				}
				score := keywordWeight*keyword + (1-keywordWeight)*semantic
				if keyword == 0 && semantic <= 0 {
					continue
				}
				hits = append(hits, &core.Hit{
					ChunkID: record.ID,
					Snippet: record.Text,
					Source:  record.SourceRef(collection),
					Score:   score,
				})
			}
			iter.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(hits, func(a, b *core.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

// Count returns the number of records in a collection.
func (r *IndexRepository) Count(ctx context.Context, collection string) (int, error) {
	count := 0
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialIndexRecordKey(collection)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Health reports whether the database is open.
func (r *IndexRepository) Health(ctx context.Context) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return ctx.Err()
}

// Close is a no-op; the backend is closed by its owner.
func (r *IndexRepository) Close() error {
	return nil
}

func decodeDimensions(data []byte) (int, error) {
	v, _, err := varint.Int64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: collection dimensions: %w", storage.ErrSerializationFailed, err)
	}
	return int(v), nil
}
