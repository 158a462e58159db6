// Package ledger is the transactional persistence behind balances, deposits and withdrawals.
//
// Every balance mutation goes through a Tx so it commits or rolls back together with the
// ledger row that justifies it. Locking is explicit: LockAccount and LockDeposit hold a
// pessimistic write lock on the row until the surrounding transaction ends.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("ledger: record not found")
	// ErrDuplicateWithdrawal is returned when (client_id, key) is already recorded.
	ErrDuplicateWithdrawal = errors.New("ledger: withdrawal key already recorded")
	// ErrAlreadyConfirmed is returned when a deposit left the unconfirmed state before this transaction locked it.
	ErrAlreadyConfirmed = errors.New("ledger: deposit already confirmed")
)

// Store is the narrow ledger surface used by the intake consumer, the poller and the query API.
type Store interface {
	// WithTransaction runs fn in one transaction; it commits if fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// EnsureAccount inserts a zero-balance account if none exists. Racing inserts resolve to a no-op.
	EnsureAccount(ctx context.Context, clientID int64, coinSymbol string) error
	GetAccount(ctx context.Context, clientID int64, coinSymbol string) (models.Account, error)
	FindWithdrawal(ctx context.Context, clientID int64, key string) (models.Withdrawal, error)
	ListUnconfirmedDeposits(ctx context.Context, coinSymbol string) ([]models.Deposit, error)
	// CreateDeposit records a newly observed deposit as unconfirmed.
	CreateDeposit(ctx context.Context, deposit models.Deposit) (models.Deposit, error)
}

// Tx is the set of operations allowed inside a ledger transaction.
type Tx interface {
	EnsureAccount(ctx context.Context, clientID int64, coinSymbol string) error
	// LockAccount reads the account under a write lock. ErrNotFound if it does not exist.
	LockAccount(ctx context.Context, clientID int64, coinSymbol string) (models.Account, error)
	IncrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error)
	DecrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error)

	FindWithdrawal(ctx context.Context, clientID int64, key string) (models.Withdrawal, error)
	// InsertWithdrawal records the withdrawal, or fails with ErrDuplicateWithdrawal.
	InsertWithdrawal(ctx context.Context, withdrawal models.Withdrawal) (models.Withdrawal, error)

	// LockDeposit reads the deposit under a write lock. ErrNotFound if it does not exist.
	LockDeposit(ctx context.Context, id uuid.UUID) (models.Deposit, error)
	// ConfirmDeposit moves a locked unconfirmed deposit to confirmed, or fails with ErrAlreadyConfirmed.
	ConfirmDeposit(ctx context.Context, id uuid.UUID) (models.Deposit, error)
}
