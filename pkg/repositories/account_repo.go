package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

const accountColumns = `client_id, coin_symbol, balance::text, created_at, updated_at`

// AccountRepository defines the interface for account repository.
type AccountRepository interface {
	// CreateIfAbsent inserts a zero-balance account. A concurrent insert of the same pair is a no-op.
	CreateIfAbsent(ctx context.Context, q database.Querier, clientID int64, coinSymbol string) (pgconn.CommandTag, error)
	// Find reads an account without locking it.
	Find(ctx context.Context, q database.Querier, clientID int64, coinSymbol string) (models.Account, error)
	// FindForUpdate reads an account and holds its row lock until tx ends.
	FindForUpdate(ctx context.Context, tx pgx.Tx, clientID int64, coinSymbol string) (models.Account, error)
	// AddBalance adds delta (which may be negative) to the balance and returns the updated row.
	AddBalance(ctx context.Context, tx pgx.Tx, clientID int64, coinSymbol string, delta decimal.Decimal) (models.Account, error)
}

type AccountRepositoryImpl struct {
}

func NewAccountRepository() AccountRepository {
	return &AccountRepositoryImpl{}
}

func (a AccountRepositoryImpl) CreateIfAbsent(ctx context.Context, q database.Querier, clientID int64, coinSymbol string) (pgconn.CommandTag, error) {
	return q.Exec(ctx, `INSERT INTO accounts (client_id, coin_symbol) VALUES ($1, $2)
		ON CONFLICT (client_id, coin_symbol) DO NOTHING`, clientID, coinSymbol)
}

func (a AccountRepositoryImpl) Find(ctx context.Context, q database.Querier, clientID int64, coinSymbol string) (models.Account, error) {
	return scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE client_id = $1 AND coin_symbol = $2`, clientID, coinSymbol))
}

func (a AccountRepositoryImpl) FindForUpdate(ctx context.Context, tx pgx.Tx, clientID int64, coinSymbol string) (models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE client_id = $1 AND coin_symbol = $2 FOR UPDATE`, clientID, coinSymbol))
}

func (a AccountRepositoryImpl) AddBalance(ctx context.Context, tx pgx.Tx, clientID int64, coinSymbol string, delta decimal.Decimal) (models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $3::numeric, updated_at = now()
		WHERE client_id = $1 AND coin_symbol = $2
		RETURNING `+accountColumns, clientID, coinSymbol, delta.String()))
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var (
		account models.Account
		balance string
	)
	if err := row.Scan(&account.ClientID, &account.CoinSymbol, &balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return models.Account{}, fmt.Errorf("account balance %q: %w", balance, err)
	}
	account.Balance = amount
	return account, nil
}
