package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseRepository_Exclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lease, err := store.Leases.AcquireLease(ctx, "manuals", "worker-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", lease.Holder)

	_, err = store.Leases.AcquireLease(ctx, "manuals", "worker-b", time.Hour)
	assert.ErrorIs(t, err, storage.ErrLeaseHeld)

	// Other definitions are independent
	_, err = store.Leases.AcquireLease(ctx, "tips", "worker-b", time.Hour)
	require.NoError(t, err)

	current, err := store.Leases.CurrentLease(ctx, "manuals")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", current.Holder)

	require.NoError(t, store.Leases.ReleaseLease(ctx, lease))
	_, err = store.Leases.CurrentLease(ctx, "manuals")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Leases.AcquireLease(ctx, "manuals", "worker-b", time.Hour)
	assert.NoError(t, err)
}

func TestLeaseRepository_ExpiredLeaseCanBeTaken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	store.Leases.now = func() time.Time { return now }

	stale, err := store.Leases.AcquireLease(ctx, "manuals", "worker-a", time.Hour)
	require.NoError(t, err)

	store.Leases.now = func() time.Time { return now.Add(2 * time.Hour) }

	_, err = store.Leases.CurrentLease(ctx, "manuals")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Leases.AcquireLease(ctx, "manuals", "worker-b", time.Hour)
	require.NoError(t, err)

	err = store.Leases.ReleaseLease(ctx, stale)
	assert.ErrorIs(t, err, storage.ErrLeaseLost)

	_, err = store.Leases.RenewLease(ctx, stale, time.Hour)
	assert.ErrorIs(t, err, storage.ErrLeaseLost)
}

func TestLeaseRepository_Renew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lease, err := store.Leases.AcquireLease(ctx, "manuals", "worker-a", time.Minute)
	require.NoError(t, err)

	renewed, err := store.Leases.RenewLease(ctx, lease, time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt))
	assert.Equal(t, lease.AcquiredAt, renewed.AcquiredAt)

	_, err = store.Leases.AcquireLease(ctx, "manuals", "worker-a", time.Minute)
	assert.NoError(t, err, "holder may re-acquire its own lease")

	_, err = store.Leases.AcquireLease(ctx, "manuals", "worker-a", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
