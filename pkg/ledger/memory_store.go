package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

type accountKey struct {
	clientID   int64
	coinSymbol string
}

type withdrawalKey struct {
	clientID int64
	key      string
}

// MemoryStore is an in-process Store. Transactions are serialized by one store-wide lock,
// which is a superset of row locking, and roll back through an undo journal.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[accountKey]models.Account
	deposits    map[uuid.UUID]models.Deposit
	withdrawals map[withdrawalKey]models.Withdrawal
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[accountKey]models.Account),
		deposits:    make(map[uuid.UUID]models.Deposit),
		withdrawals: make(map[withdrawalKey]models.Withdrawal),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p) // Re-throw
		}
		if err != nil {
			tx.rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	// a cancelled caller must not observe a commit it can no longer report
	return ctx.Err()
}

func (s *MemoryStore) EnsureAccount(ctx context.Context, clientID int64, coinSymbol string) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.EnsureAccount(ctx, clientID, coinSymbol)
	})
}

func (s *MemoryStore) GetAccount(_ context.Context, clientID int64, coinSymbol string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountKey{clientID, coinSymbol}]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return account, nil
}

func (s *MemoryStore) FindWithdrawal(_ context.Context, clientID int64, key string) (models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findWithdrawal(clientID, key)
}

func (s *MemoryStore) ListUnconfirmedDeposits(_ context.Context, coinSymbol string) ([]models.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deposits []models.Deposit
	for _, d := range s.deposits {
		if d.CoinSymbol == coinSymbol && d.Status == pkg.DepositStatusUnconfirmed {
			deposits = append(deposits, d)
		}
	}
	sort.Slice(deposits, func(i, j int) bool {
		if deposits[i].CreatedAt.Equal(deposits[j].CreatedAt) {
			return deposits[i].ID.String() < deposits[j].ID.String()
		}
		return deposits[i].CreatedAt.Before(deposits[j].CreatedAt)
	})
	return deposits, nil
}

func (s *MemoryStore) CreateDeposit(_ context.Context, deposit models.Deposit) (models.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	if deposit.Status == "" {
		deposit.Status = pkg.DepositStatusUnconfirmed
	}
	now := s.now()
	deposit.CreatedAt, deposit.UpdatedAt = now, now
	s.deposits[deposit.ID] = deposit
	return deposit, nil
}

// ListWithdrawals returns every withdrawal of an account. Used by tests to reconcile balances.
func (s *MemoryStore) ListWithdrawals(clientID int64, coinSymbol string) []models.Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var withdrawals []models.Withdrawal
	for _, w := range s.withdrawals {
		if w.ClientID == clientID && w.CoinSymbol == coinSymbol {
			withdrawals = append(withdrawals, w)
		}
	}
	return withdrawals
}

// SetBalance seeds an account balance outside the ledger flow.
func (s *MemoryStore) SetBalance(clientID int64, coinSymbol string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey{clientID, coinSymbol}
	account, ok := s.accounts[key]
	if !ok {
		account = models.Account{ClientID: clientID, CoinSymbol: coinSymbol, CreatedAt: s.now()}
	}
	account.Balance = balance
	account.UpdatedAt = s.now()
	s.accounts[key] = account
}

func (s *MemoryStore) findWithdrawal(clientID int64, key string) (models.Withdrawal, error) {
	withdrawal, ok := s.withdrawals[withdrawalKey{clientID, key}]
	if !ok {
		return models.Withdrawal{}, ErrNotFound
	}
	return withdrawal, nil
}

// memoryTx runs with MemoryStore.mu held.
type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) EnsureAccount(_ context.Context, clientID int64, coinSymbol string) error {
	key := accountKey{clientID, coinSymbol}
	if _, ok := t.store.accounts[key]; ok {
		return nil
	}
	now := t.store.now()
	t.store.accounts[key] = models.Account{ClientID: clientID, CoinSymbol: coinSymbol, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	t.undo = append(t.undo, func() { delete(t.store.accounts, key) })
	return nil
}

func (t *memoryTx) LockAccount(_ context.Context, clientID int64, coinSymbol string) (models.Account, error) {
	account, ok := t.store.accounts[accountKey{clientID, coinSymbol}]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return account, nil
}

func (t *memoryTx) IncrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error) {
	return t.addBalance(clientID, coinSymbol, amount)
}

func (t *memoryTx) DecrementBalance(ctx context.Context, clientID int64, coinSymbol string, amount decimal.Decimal) (models.Account, error) {
	return t.addBalance(clientID, coinSymbol, amount.Neg())
}

func (t *memoryTx) addBalance(clientID int64, coinSymbol string, delta decimal.Decimal) (models.Account, error) {
	key := accountKey{clientID, coinSymbol}
	prev, ok := t.store.accounts[key]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	next := prev
	next.Balance = prev.Balance.Add(delta)
	next.UpdatedAt = t.store.now()
	t.store.accounts[key] = next
	t.undo = append(t.undo, func() { t.store.accounts[key] = prev })
	return next, nil
}

func (t *memoryTx) FindWithdrawal(_ context.Context, clientID int64, key string) (models.Withdrawal, error) {
	return t.store.findWithdrawal(clientID, key)
}

func (t *memoryTx) InsertWithdrawal(_ context.Context, withdrawal models.Withdrawal) (models.Withdrawal, error) {
	key := withdrawalKey{withdrawal.ClientID, withdrawal.Key}
	if _, ok := t.store.withdrawals[key]; ok {
		return models.Withdrawal{}, ErrDuplicateWithdrawal
	}
	if withdrawal.ID == uuid.Nil {
		withdrawal.ID = uuid.New()
	}
	withdrawal.CreatedAt = t.store.now()
	t.store.withdrawals[key] = withdrawal
	t.undo = append(t.undo, func() { delete(t.store.withdrawals, key) })
	return withdrawal, nil
}

func (t *memoryTx) LockDeposit(_ context.Context, id uuid.UUID) (models.Deposit, error) {
	deposit, ok := t.store.deposits[id]
	if !ok {
		return models.Deposit{}, ErrNotFound
	}
	return deposit, nil
}

func (t *memoryTx) ConfirmDeposit(_ context.Context, id uuid.UUID) (models.Deposit, error) {
	prev, ok := t.store.deposits[id]
	if !ok || prev.Status != pkg.DepositStatusUnconfirmed {
		return models.Deposit{}, ErrAlreadyConfirmed
	}
	next := prev
	next.Status = pkg.DepositStatusConfirmed
	next.UpdatedAt = t.store.now()
	t.store.deposits[id] = next
	t.undo = append(t.undo, func() { t.store.deposits[id] = prev })
	return next, nil
}
