package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_RollbackOnPanic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureAccount(ctx, 1, "BTC"))

	assert.Panics(t, func() {
		_ = s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, _ = tx.IncrementBalance(ctx, 1, "BTC", decimal.NewFromInt(5))
			panic("boom")
		})
	})

	account, err := s.GetAccount(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}

func TestMemoryStore_CancelledContextRollsBack(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.EnsureAccount(context.Background(), 1, "BTC"))

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.IncrementBalance(ctx, 1, "BTC", decimal.NewFromInt(5))
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	account, err := s.GetAccount(context.Background(), 1, "BTC")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}

func TestMemoryStore_SetBalanceAndListWithdrawals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetBalance(1, "ETH", decimal.NewFromInt(7))

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.InsertWithdrawal(ctx, newWithdrawal(1, "ETH", "a", "1"))
		return err
	}))

	account, err := s.GetAccount(ctx, 1, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "7", account.Balance.String())
	assert.Len(t, s.ListWithdrawals(1, "ETH"), 1)
	assert.Empty(t, s.ListWithdrawals(2, "ETH"))
}
