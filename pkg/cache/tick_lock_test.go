package cache

import (
	"context"
	"testing"
	"time"

	"github.com/nimeshabuddhika/custodial-ledger/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTickLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	addr := testutils.StartRedisForTests(t)
	ctx := context.Background()
	client, closer, err := New(ctx, zap.NewNop(), Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(closer)

	lock := NewTickLock(client, "ledger:tick:", 5*time.Second)

	release, ok, err := lock.TryAcquire(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	_, ok, err = lock.TryAcquire(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, ok, "locks are per job name")

	release()
	release2, ok, err := lock.TryAcquire(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestTickLock_ExpiredHolderCannotReleaseNewHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	addr := testutils.StartRedisForTests(t)
	ctx := context.Background()
	client, closer, err := New(ctx, zap.NewNop(), Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(closer)

	stale := NewTickLock(client, "ledger:tick:", 100*time.Millisecond)
	lock := NewTickLock(client, "ledger:tick:", 5*time.Second)
	staleRelease, ok, err := stale.TryAcquire(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := lock.TryAcquire(ctx, "BTC")
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)

	staleRelease()
	_, ok, err = lock.TryAcquire(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok, "stale release must not drop the current holder's lock")
}
