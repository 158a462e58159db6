package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, client_id, coin_symbol, amount::text, recipient, COALESCE(memo, ''), key, created_at`

type WithdrawalRepository interface {
	// CreateIfAbsent inserts the withdrawal unless (client_id, key) already exists.
	// It returns pgx.ErrNoRows when the key was already taken.
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, withdrawal models.Withdrawal) (models.Withdrawal, error)
	// FindByKey finds the withdrawal recorded for a client's idempotency key.
	FindByKey(ctx context.Context, q database.Querier, clientID int64, key string) (models.Withdrawal, error)
}

type WithdrawalRepositoryImpl struct {
}

func NewWithdrawalRepository() WithdrawalRepository {
	return &WithdrawalRepositoryImpl{}
}

func (w WithdrawalRepositoryImpl) CreateIfAbsent(ctx context.Context, tx pgx.Tx, withdrawal models.Withdrawal) (models.Withdrawal, error) {
	var memo *string
	if withdrawal.Memo != "" {
		memo = &withdrawal.Memo
	}
	return scanWithdrawal(tx.QueryRow(ctx, `
		INSERT INTO withdrawals (id, client_id, coin_symbol, amount, recipient, memo, key)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (client_id, key) DO NOTHING
		RETURNING `+withdrawalColumns,
		withdrawal.ID,
		withdrawal.ClientID,
		withdrawal.CoinSymbol,
		withdrawal.Amount.String(),
		withdrawal.Recipient,
		memo,
		withdrawal.Key,
	))
}

func (w WithdrawalRepositoryImpl) FindByKey(ctx context.Context, q database.Querier, clientID int64, key string) (models.Withdrawal, error) {
	return scanWithdrawal(q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE client_id = $1 AND key = $2`, clientID, key))
}

func scanWithdrawal(row pgx.Row) (models.Withdrawal, error) {
	var (
		withdrawal models.Withdrawal
		amount     string
	)
	err := row.Scan(
		&withdrawal.ID,
		&withdrawal.ClientID,
		&withdrawal.CoinSymbol,
		&amount,
		&withdrawal.Recipient,
		&withdrawal.Memo,
		&withdrawal.Key,
		&withdrawal.CreatedAt,
	)
	if err != nil {
		return models.Withdrawal{}, err
	}
	if withdrawal.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Withdrawal{}, fmt.Errorf("withdrawal amount %q: %w", amount, err)
	}
	return withdrawal, nil
}
