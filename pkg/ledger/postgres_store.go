package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresStore implements Store on top of pgx. Row locks are SELECT ... FOR UPDATE.
type PostgresStore struct {
	db          *database.DB
	logger      *zap.Logger
	accounts    repositories.AccountRepository
	deposits    repositories.DepositRepository
	withdrawals repositories.WithdrawalRepository
}

func NewPostgresStore(db *database.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		logger:      logger,
		accounts:    repositories.NewAccountRepository(),
		deposits:    repositories.NewDepositRepository(),
		withdrawals: repositories.NewWithdrawalRepository(),
	}
}

func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &postgresTx{store: s, tx: tx})
	})
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, clientID int64, coinSymbol string) error {
	_, err := s.accounts.CreateIfAbsent(ctx, s.db.Writer(), clientID, coinSymbol)
	return s.mapErr(err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, clientID int64, coinSymbol string) (models.Account, error) {
	account, err := s.accounts.Find(ctx, s.db, clientID, coinSymbol)
	return account, s.mapErr(err)
}

// FindWithdrawal reads from the primary: the idempotency pre-check must see the latest commit.
func (s *PostgresStore) FindWithdrawal(ctx context.Context, clientID int64, key string) (models.Withdrawal, error) {
	withdrawal, err := s.withdrawals.FindByKey(ctx, s.db.Writer(), clientID, key)
	return withdrawal, s.mapErr(err)
}

func (s *PostgresStore) ListUnconfirmedDeposits(ctx context.Context, coinSymbol string) ([]models.Deposit, error) {
	deposits, err := s.deposits.FindByStatus(ctx, s.db.Writer(), coinSymbol, pkg.DepositStatusUnconfirmed)
	return deposits, s.mapErr(err)
}

func (s *PostgresStore) CreateDeposit(ctx context.Context, deposit models.Deposit) (models.Deposit, error) {
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	if deposit.Status == "" {
		deposit.Status = pkg.DepositStatusUnconfirmed
	}
	created, err := s.deposits.Create(ctx, s.db.Writer(), deposit)
	return created, s.mapErr(err)
}

func (s *PostgresStore) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkg.HandleSQLError("", s.logger, err)
}

type postgresTx struct {
	store *PostgresStore
	tx    pgx.Tx
}

func (t *postgresTx) EnsureAccount(ctx context.Context, clientID int64, coinSymbol string) error {
	_, err := t.store.accounts.CreateIfAbsent(ctx, t.tx, clientID, coinSymbol)
	return t.store.mapErr(err)
}

func (t *postgresTx) LockAccount(ctx context.Context, clientID int64, coinSymbol string) (models.Account, error) {
	account, err := t.store.accounts.FindForUpdate(ctx, t.tx, clientID, coinSymbol)
	return account, t.store.mapErr(err)
}

func (t *postgresTx) IncrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error) {
	account, err := t.store.accounts.AddBalance(ctx, t.tx, clientID, coinSymbol, amount)
	return account, t.store.mapErr(err)
}

func (t *postgresTx) DecrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error) {
	account, err := t.store.accounts.AddBalance(ctx, t.tx, clientID, coinSymbol, amount.Neg())
	return account, t.store.mapErr(err)
}

func (t *postgresTx) FindWithdrawal(ctx context.Context, clientID int64, key string) (models.Withdrawal, error) {
	withdrawal, err := t.store.withdrawals.FindByKey(ctx, t.tx, clientID, key)
	return withdrawal, t.store.mapErr(err)
}

func (t *postgresTx) InsertWithdrawal(ctx context.Context, withdrawal models.Withdrawal) (models.Withdrawal, error) {
	created, err := t.store.withdrawals.CreateIfAbsent(ctx, t.tx, withdrawal)
	if errors.Is(err, pgx.ErrNoRows) || pkg.IsUniqueViolation(err) {
		return models.Withdrawal{}, ErrDuplicateWithdrawal
	}
	return created, t.store.mapErr(err)
}

func (t *postgresTx) LockDeposit(ctx context.Context, id uuid.UUID) (models.Deposit, error) {
	deposit, err := t.store.deposits.FindForUpdate(ctx, t.tx, id)
	return deposit, t.store.mapErr(err)
}

func (t *postgresTx) ConfirmDeposit(ctx context.Context, id uuid.UUID) (models.Deposit, error) {
	deposit, err := t.store.deposits.MarkConfirmed(ctx, t.tx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Deposit{}, ErrAlreadyConfirmed
	}
	return deposit, t.store.mapErr(err)
}
