package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
// Runs are stored by ID with a per-definition index ordered by creation time.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{backend: backend}
}

// SaveRun inserts or replaces a run.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.Run) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := tx.Set(makeRunKey(run.ID), storage.MarshalRun(run)); err != nil {
			return err
		}
		return tx.Set(makeRunDateKey(run.Definition, run.CreatedAt, run.ID), nil)
	})
}

// GetRun retrieves a run by ID. Returns storage.ErrNotFound if missing.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.Run, error) {
	var run *core.Run
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		run, err = getValue(tx, makeRunKey(id), storage.UnmarshalRun)
		return err
	})
	return run, err
}

// LatestRun returns the most recently created run of a definition.
func (r *RunRepository) LatestRun(ctx context.Context, definition string) (*core.Run, error) {
	runs, err := r.ListRuns(ctx, definition, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storage.ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs of a definition, newest first.
// A limit <= 0 returns all runs.
func (r *RunRepository) ListRuns(ctx context.Context, definition string, limit int) ([]*core.Run, error) {
	var runs []*core.Run
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		prefix := makePartialRunDateKey(definition)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse iteration must start past the last key with the prefix
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for iter.Seek(seekKey); iter.ValidForPrefix(prefix); iter.Next() {
			id := runIDFromDateKey(definition, iter.Item().KeyCopy(nil))
			run, err := getValue(tx, makeRunKey(id), storage.UnmarshalRun)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// Close is a no-op; the backend is closed by its owner.
func (r *RunRepository) Close() error {
	return nil
}
