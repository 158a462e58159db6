package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

const depositColumns = `id, client_id, coin_symbol, amount::text, tx_hash, status, created_at, updated_at`

type DepositRepository interface {
	// Create inserts a new deposit row.
	Create(ctx context.Context, q database.Querier, deposit models.Deposit) (models.Deposit, error)
	// FindByStatus lists deposits of one coin in a given status, oldest first.
	FindByStatus(ctx context.Context, q database.Querier, coinSymbol string, status pkg.DepositStatus) ([]models.Deposit, error)
	// FindForUpdate reads a deposit and holds its row lock until tx ends.
	FindForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.Deposit, error)
	// MarkConfirmed moves an unconfirmed deposit to confirmed. pgx.ErrNoRows means it was not unconfirmed.
	MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.Deposit, error)
}

type DepositRepositoryImpl struct {
}

func NewDepositRepository() DepositRepository {
	return &DepositRepositoryImpl{}
}

func (d DepositRepositoryImpl) Create(ctx context.Context, q database.Querier, deposit models.Deposit) (models.Deposit, error) {
	return scanDeposit(q.QueryRow(ctx, `
		INSERT INTO deposits (id, client_id, coin_symbol, amount, tx_hash, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING `+depositColumns,
		deposit.ID,
		deposit.ClientID,
		deposit.CoinSymbol,
		deposit.Amount.String(),
		deposit.TxHash,
		deposit.Status,
	))
}

func (d DepositRepositoryImpl) FindByStatus(ctx context.Context, q database.Querier, coinSymbol string, status pkg.DepositStatus) ([]models.Deposit, error) {
	rows, err := q.Query(ctx, `SELECT `+depositColumns+` FROM deposits
		WHERE coin_symbol = $1 AND status = $2
		ORDER BY created_at, id`, coinSymbol, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, deposit)
	}
	return deposits, rows.Err()
}

func (d DepositRepositoryImpl) FindForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.Deposit, error) {
	return scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
}

func (d DepositRepositoryImpl) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.Deposit, error) {
	return scanDeposit(tx.QueryRow(ctx, `UPDATE deposits SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+depositColumns, id, pkg.DepositStatusConfirmed, pkg.DepositStatusUnconfirmed))
}

func scanDeposit(row pgx.Row) (models.Deposit, error) {
	var (
		deposit models.Deposit
		amount  string
	)
	err := row.Scan(
		&deposit.ID,
		&deposit.ClientID,
		&deposit.CoinSymbol,
		&amount,
		&deposit.TxHash,
		&deposit.Status,
		&deposit.CreatedAt,
		&deposit.UpdatedAt,
	)
	if err != nil {
		return models.Deposit{}, err
	}
	if deposit.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Deposit{}, fmt.Errorf("deposit amount %q: %w", amount, err)
	}
	return deposit, nil
}
