// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// CheckpointRepository implements storage.CheckpointRepository for BadgerDB.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{
		backend: backend,
	}
}

// AdvanceCheckpoint persists a checkpoint if it does not move backwards.
// The read and the write happen in one transaction.
func (r *CheckpointRepository) AdvanceCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	key := makeCheckpointKey(checkpoint.Definition, checkpoint.Version)
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		current, err := getValue(tx, key, storage.UnmarshalCheckpoint)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if current != nil {
			if checkpoint.Cursor.Before(current.Cursor) || checkpoint.Items < current.Items {
				return fmt.Errorf("%w: %s@%s: %s -> %s", core.ErrCheckpointRegression,
					checkpoint.Definition, checkpoint.Version, current.Cursor, checkpoint.Cursor)
			}
		}
		checkpoint.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalCheckpoint(checkpoint))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent checkpoint update for %s", core.ErrCheckpointRegression, checkpoint.Definition)
	}
	return err
}

// LoadCheckpoint retrieves the checkpoint for a definition version.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, definition, version string) (*core.Checkpoint, error) {
	var checkpoint *core.Checkpoint
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		checkpoint, err = getValue(tx, makeCheckpointKey(definition, version), storage.UnmarshalCheckpoint)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	return checkpoint, err
}

// ListCheckpoints returns the checkpoints of all versions of a definition.
func (r *CheckpointRepository) ListCheckpoints(ctx context.Context, definition string) ([]*core.Checkpoint, error) {
	var checkpoints []*core.Checkpoint
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialCheckpointKey(definition)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				checkpoint, err := storage.UnmarshalCheckpoint(val)
				if err != nil {
					return err
				}
				checkpoints = append(checkpoints, checkpoint)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return checkpoints, err
}

// Close is a no-op; the backend is closed by its owner.
func (r *CheckpointRepository) Close() error {
	return nil
}
