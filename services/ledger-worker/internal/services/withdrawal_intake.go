package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/assets"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/views"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome tells the transport what to do with a withdrawal message.
type Outcome int

const (
	// OutcomeProcessed means the debit and the withdrawal record committed together.
	OutcomeProcessed Outcome = iota
	// OutcomeDuplicate means the key was already recorded; nothing changed.
	OutcomeDuplicate
	// OutcomeRejected means the message can never succeed; nothing changed.
	OutcomeRejected
	// OutcomeRetry means a transient failure; nothing changed and the message must be redelivered.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ShouldAck reports whether the message is finished with.
func (o Outcome) ShouldAck() bool {
	return o != OutcomeRetry
}

// WithdrawalMessage is one delivery from the withdrawal_creation queue.
// ClientID comes from the authenticated channel, never from the body.
type WithdrawalMessage struct {
	ClientID string
	Body     []byte
}

type WithdrawalIntake interface {
	Handle(ctx context.Context, msg WithdrawalMessage) (Outcome, error)
}

type WithdrawalIntakeConfig struct {
	Logger   *zap.Logger
	Store    ledger.Store
	Registry *assets.Registry
	Policy   pkg.BalancePolicy

	// internal initialization
	validate *validator.Validate
}

func NewWithdrawalIntake(cfg WithdrawalIntakeConfig) WithdrawalIntake {
	if cfg.Policy == "" {
		cfg.Policy = pkg.BalancePolicyReject
	}
	cfg.validate = validator.New()
	return &cfg
}

var errAccountVanished = errors.New("account vanished between provisioning and lock")

// Handle runs a withdrawal request through parse, dedup, asset and address checks and the
// locked debit. The error carries the reason for OutcomeRejected and OutcomeRetry.
func (w *WithdrawalIntakeConfig) Handle(ctx context.Context, msg WithdrawalMessage) (Outcome, error) {
	clientID, req, amount, err := w.parse(msg)
	if err != nil {
		return w.reject(msg.ClientID, "", "malformed", pkg.NewAppError(pkg.ErrMalformedMessageCode, "malformed withdrawal message", err))
	}
	log := w.Logger.With(
		zap.Int64(pkg.ClientId, clientID),
		zap.String(pkg.CoinSymbol, req.CoinSymbol),
		zap.String(pkg.IdempotencyKey, req.Key))

	// Cheap pre-check outside any lock; the locked re-check below closes the race.
	if _, err := w.Store.FindWithdrawal(ctx, clientID, req.Key); err == nil {
		return w.duplicate(log)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return w.retry(log, "store_error", err)
	}

	plugin, ok := w.Registry.Lookup(req.CoinSymbol)
	if !ok {
		return w.reject(msg.ClientID, req.Key, "unsupported_asset",
			pkg.NewAppError(pkg.ErrUnsupportedAssetCode, fmt.Sprintf("coin %s is not supported", req.CoinSymbol), nil))
	}
	if !plugin.IsValidAddress(req.Recipient) {
		return w.reject(msg.ClientID, req.Key, "invalid_address",
			pkg.NewAppError(pkg.ErrInvalidAddressCode, fmt.Sprintf("recipient is not a valid %s address", plugin.Symbol()), nil))
	}
	if err := assets.CheckAmount(plugin, amount); err != nil {
		return w.reject(msg.ClientID, req.Key, "invalid_amount", pkg.NewAppError(pkg.ErrInvalidAmountCode, "amount not representable", err))
	}

	if err := w.Store.EnsureAccount(ctx, clientID, plugin.Symbol()); err != nil {
		return w.retry(log, "store_error", err)
	}

	var recorded models.Withdrawal
	var balance decimal.Decimal
	err = w.Store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		account, err := tx.LockAccount(ctx, clientID, plugin.Symbol())
		if errors.Is(err, ledger.ErrNotFound) {
			return errAccountVanished
		}
		if err != nil {
			return err
		}

		if _, err := tx.FindWithdrawal(ctx, clientID, req.Key); err == nil {
			return ledger.ErrDuplicateWithdrawal
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		if w.Policy == pkg.BalancePolicyReject && account.Balance.LessThan(amount) {
			return pkg.ErrInsufficientBalance
		}

		recorded, err = tx.InsertWithdrawal(ctx, models.Withdrawal{
			ID:         uuid.New(),
			ClientID:   clientID,
			CoinSymbol: plugin.Symbol(),
			Amount:     amount,
			Recipient:  req.Recipient,
			Memo:       req.MemoValue(),
			Key:        req.Key,
		})
		if err != nil {
			return err
		}
		updated, err := tx.DecrementBalance(ctx, clientID, plugin.Symbol(), amount)
		if err != nil {
			return err
		}
		balance = updated.Balance
		return nil
	})

	switch {
	case err == nil:
		observability.WithdrawalOutcomes.WithLabelValues(OutcomeProcessed.String(), "").Inc()
		log.Info("withdrawal_recorded",
			zap.String("withdrawal_id", recorded.ID.String()),
			zap.String("amount", amount.String()),
			zap.String("balance", balance.String()))
		return OutcomeProcessed, nil
	case errors.Is(err, ledger.ErrDuplicateWithdrawal):
		return w.duplicate(log)
	case errors.Is(err, errAccountVanished):
		return w.reject(msg.ClientID, req.Key, "account_missing", pkg.NewAppError(pkg.ErrAccountMissingCode, "account vanished before debit", err))
	case errors.Is(err, pkg.ErrInsufficientBalance):
		return w.reject(msg.ClientID, req.Key, "insufficient_balance",
			pkg.NewAppError(pkg.ErrInsufficientFundsCode, fmt.Sprintf("withdrawal of %s exceeds balance", amount), err))
	case pkg.CodeOf(err) == pkg.ErrSQLInvalidInput:
		// the store refused the data itself; redelivery would fail the same way forever
		return w.reject(msg.ClientID, req.Key, "store_rejected", err)
	default:
		return w.retry(log, "store_error", err)
	}
}

// parse decodes and structurally validates a message. Any error here is terminal.
func (w *WithdrawalIntakeConfig) parse(msg WithdrawalMessage) (int64, views.WithdrawalRequest, decimal.Decimal, error) {
	var req views.WithdrawalRequest
	clientID, err := strconv.ParseInt(strings.TrimSpace(msg.ClientID), 10, 64)
	if err != nil || clientID < 0 {
		return 0, req, decimal.Zero, fmt.Errorf("client id %q is not a non-negative integer", msg.ClientID)
	}
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return 0, req, decimal.Zero, fmt.Errorf("decode body: %w", err)
	}
	req.Normalize()
	if err := w.validate.Struct(&req); err != nil {
		return 0, req, decimal.Zero, err
	}
	amount, err := req.ParsedAmount()
	if err != nil {
		return 0, req, decimal.Zero, fmt.Errorf("amount %q: %w", req.Amount, err)
	}
	if !amount.IsPositive() {
		return 0, req, decimal.Zero, fmt.Errorf("amount %s must be positive", amount)
	}
	return clientID, req, amount, nil
}

func (w *WithdrawalIntakeConfig) duplicate(log *zap.Logger) (Outcome, error) {
	observability.WithdrawalOutcomes.WithLabelValues(OutcomeDuplicate.String(), "").Inc()
	log.Info("withdrawal_duplicate_ignored")
	return OutcomeDuplicate, nil
}

func (w *WithdrawalIntakeConfig) reject(clientID, key, reason string, err error) (Outcome, error) {
	observability.WithdrawalOutcomes.WithLabelValues(OutcomeRejected.String(), reason).Inc()
	w.Logger.Warn("withdrawal_rejected",
		zap.String(pkg.ClientId, clientID),
		zap.String(pkg.IdempotencyKey, key),
		zap.String("reason", reason),
		zap.Error(err))
	return OutcomeRejected, err
}

func (w *WithdrawalIntakeConfig) retry(log *zap.Logger, reason string, err error) (Outcome, error) {
	observability.WithdrawalOutcomes.WithLabelValues(OutcomeRetry.String(), reason).Inc()
	log.Error("withdrawal_intake_failed", zap.String("reason", reason), zap.Error(err))
	return OutcomeRetry, err
}
