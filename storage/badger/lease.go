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

// LeaseRepository implements storage.LeaseRepository for BadgerDB.
// Lease entries carry a badger TTL so an abandoned lease disappears on its own.
type LeaseRepository struct {
	backend *Backend
	now     func() time.Time
}

var _ storage.LeaseRepository = (*LeaseRepository)(nil)

// NewLeaseRepository creates a new LeaseRepository.
func NewLeaseRepository(backend *Backend) *LeaseRepository {
	return &LeaseRepository{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AcquireLease takes the lease on definition for holder. A holder may
// re-acquire its own lease.
func (r *LeaseRepository) AcquireLease(ctx context.Context, definition, holder string, ttl time.Duration) (*core.Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: lease ttl must be > 0", storage.ErrInvalidQuery)
	}
	now := r.now()
	lease := &core.Lease{
		Definition: definition,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		current, err := getValue(tx, makeLeaseKey(definition), storage.UnmarshalLease)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if current != nil && current.Holder != holder && current.ExpiresAt.After(now) {
			return fmt.Errorf("%w: %s held by %s until %s", storage.ErrLeaseHeld,
				definition, current.Holder, current.ExpiresAt.Format(time.RFC3339))
		}
		return r.setLease(tx, lease, ttl)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %s acquired concurrently", storage.ErrLeaseHeld, definition)
	}
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// RenewLease extends a lease still held by the same holder.
func (r *LeaseRepository) RenewLease(ctx context.Context, lease *core.Lease, ttl time.Duration) (*core.Lease, error) {
	now := r.now()
	renewed := &core.Lease{
		Definition: lease.Definition,
		Holder:     lease.Holder,
		AcquiredAt: lease.AcquiredAt,
		ExpiresAt:  now.Add(ttl),
	}
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := r.checkHeld(tx, lease, now); err != nil {
			return err
		}
		return r.setLease(tx, renewed, ttl)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %s", storage.ErrLeaseLost, lease.Definition)
	}
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

// ReleaseLease deletes a lease still held by the same holder.
func (r *LeaseRepository) ReleaseLease(ctx context.Context, lease *core.Lease) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := r.checkHeld(tx, lease, r.now()); err != nil {
			return err
		}
		return tx.Delete(makeLeaseKey(lease.Definition))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s", storage.ErrLeaseLost, lease.Definition)
	}
	return err
}

// CurrentLease returns the unexpired lease on definition, or storage.ErrNotFound.
func (r *LeaseRepository) CurrentLease(ctx context.Context, definition string) (*core.Lease, error) {
	var lease *core.Lease
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		lease, err = getValue(tx, makeLeaseKey(definition), storage.UnmarshalLease)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !lease.ExpiresAt.After(r.now()) {
		return nil, storage.ErrNotFound
	}
	return lease, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *LeaseRepository) Close() error {
	return nil
}

func (r *LeaseRepository) checkHeld(tx *badger.Txn, lease *core.Lease, now time.Time) error {
	current, err := getValue(tx, makeLeaseKey(lease.Definition), storage.UnmarshalLease)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s expired", storage.ErrLeaseLost, lease.Definition)
	}
	if err != nil {
		return err
	}
	if current.Holder != lease.Holder || !current.ExpiresAt.After(now) {
		return fmt.Errorf("%w: %s now held by %s", storage.ErrLeaseLost, lease.Definition, current.Holder)
	}
	return nil
}

func (r *LeaseRepository) setLease(tx *badger.Txn, lease *core.Lease, ttl time.Duration) error {
	entry := badger.NewEntry(makeLeaseKey(lease.Definition), storage.MarshalLease(lease)).WithTTL(ttl)
	return tx.SetEntry(entry)
}
