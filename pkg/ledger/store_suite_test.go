package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("EnsureAccountIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.EnsureAccount(ctx, 1, "BTC"))
		require.NoError(t, s.EnsureAccount(ctx, 1, "BTC"))

		account, err := s.GetAccount(ctx, 1, "BTC")
		require.NoError(t, err)
		assert.True(t, account.Balance.IsZero())
		assert.Equal(t, "BTC", account.CoinSymbol)
	})

	t.Run("GetAccountMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAccount(context.Background(), 404, "BTC")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("IncrementAndDecrement", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureAccount(ctx, 2, "ETH"))

		err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockAccount(ctx, 2, "ETH"); err != nil {
				return err
			}
			if _, err := tx.IncrementBalance(ctx, 2, "ETH", decimal.RequireFromString("1.000000000000000001")); err != nil {
				return err
			}
			account, err := tx.DecrementBalance(ctx, 2, "ETH", decimal.RequireFromString("0.5"))
			if err != nil {
				return err
			}
			assert.True(t, account.Balance.Equal(decimal.RequireFromString("0.500000000000000001")))
			return nil
		})
		require.NoError(t, err)

		account, err := s.GetAccount(ctx, 2, "ETH")
		require.NoError(t, err)
		assert.Equal(t, "0.500000000000000001", account.Balance.String())
	})

	t.Run("LockMissingAccount", func(t *testing.T) {
		s := newStore(t)
		err := s.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
			_, err := tx.LockAccount(ctx, 3, "BTC")
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureAccount(ctx, 4, "BTC"))
		boom := errors.New("boom")

		err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.IncrementBalance(ctx, 4, "BTC", decimal.NewFromInt(10)); err != nil {
				return err
			}
			if _, err := tx.InsertWithdrawal(ctx, newWithdrawal(4, "BTC", "k-rollback", "1")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		account, err := s.GetAccount(ctx, 4, "BTC")
		require.NoError(t, err)
		assert.True(t, account.Balance.IsZero())
		_, err = s.FindWithdrawal(ctx, 4, "k-rollback")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateWithdrawalKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureAccount(ctx, 5, "BTC"))

		insert := func(amount string) error {
			return s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
				_, err := tx.InsertWithdrawal(ctx, newWithdrawal(5, "BTC", "k1", amount))
				return err
			})
		}
		require.NoError(t, insert("1"))
		assert.ErrorIs(t, insert("2"), ErrDuplicateWithdrawal)

		w, err := s.FindWithdrawal(ctx, 5, "k1")
		require.NoError(t, err)
		assert.Equal(t, "1", w.Amount.String())

		// the same key under another client is independent
		require.NoError(t, s.EnsureAccount(ctx, 6, "BTC"))
		err = s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.InsertWithdrawal(ctx, newWithdrawal(6, "BTC", "k1", "3"))
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("WithdrawalMemoIsOptional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureAccount(ctx, 7, "ETH"))

		withMemo := newWithdrawal(7, "ETH", "memo", "1")
		withMemo.Memo = "invoice 42"
		err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.InsertWithdrawal(ctx, withMemo); err != nil {
				return err
			}
			_, err := tx.InsertWithdrawal(ctx, newWithdrawal(7, "ETH", "no-memo", "1"))
			return err
		})
		require.NoError(t, err)

		w, err := s.FindWithdrawal(ctx, 7, "memo")
		require.NoError(t, err)
		assert.Equal(t, "invoice 42", w.Memo)
		w, err = s.FindWithdrawal(ctx, 7, "no-memo")
		require.NoError(t, err)
		assert.Empty(t, w.Memo)
	})

	t.Run("ConfirmDepositOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		deposit, err := s.CreateDeposit(ctx, models.Deposit{
			ID:         uuid.New(),
			ClientID:   8,
			CoinSymbol: "BTC",
			Amount:     decimal.RequireFromString("0.25"),
			TxHash:     "abc",
			Status:     pkg.DepositStatusUnconfirmed,
		})
		require.NoError(t, err)
		assert.Equal(t, pkg.DepositStatusUnconfirmed, deposit.Status)

		confirm := func() error {
			return s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
				if _, err := tx.LockDeposit(ctx, deposit.ID); err != nil {
					return err
				}
				confirmed, err := tx.ConfirmDeposit(ctx, deposit.ID)
				if err != nil {
					return err
				}
				assert.True(t, confirmed.IsConfirmed())
				return nil
			})
		}
		require.NoError(t, confirm())
		assert.ErrorIs(t, confirm(), ErrAlreadyConfirmed)

		pending, err := s.ListUnconfirmedDeposits(ctx, "BTC")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("LockMissingDeposit", func(t *testing.T) {
		s := newStore(t)
		err := s.WithTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
			_, err := tx.LockDeposit(ctx, uuid.New())
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListUnconfirmedDepositsFiltersByCoin", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, coin := range []string{"BTC", "BTC", "ETH"} {
			_, err := s.CreateDeposit(ctx, models.Deposit{
				ID:         uuid.New(),
				ClientID:   9,
				CoinSymbol: coin,
				Amount:     decimal.NewFromInt(1),
				TxHash:     uuid.NewString(),
				Status:     pkg.DepositStatusUnconfirmed,
			})
			require.NoError(t, err)
		}

		btc, err := s.ListUnconfirmedDeposits(ctx, "BTC")
		require.NoError(t, err)
		assert.Len(t, btc, 2)
		eth, err := s.ListUnconfirmedDeposits(ctx, "ETH")
		require.NoError(t, err)
		assert.Len(t, eth, 1)
	})

	t.Run("ConcurrentDebitsSerialize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureAccount(ctx, 10, "BTC"))
		require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.IncrementBalance(ctx, 10, "BTC", decimal.NewFromInt(100))
			return err
		}))

		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
					if _, err := tx.LockAccount(ctx, 10, "BTC"); err != nil {
						return err
					}
					_, err := tx.DecrementBalance(ctx, 10, "BTC", decimal.NewFromInt(3))
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		account, err := s.GetAccount(ctx, 10, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "70", account.Balance.String())
	})
}

func newWithdrawal(clientID int64, coin, key, amount string) models.Withdrawal {
	return models.Withdrawal{
		ID:         uuid.New(),
		ClientID:   clientID,
		CoinSymbol: coin,
		Amount:     decimal.RequireFromString(amount),
		Recipient:  "recipient",
		Key:        key,
	}
}
