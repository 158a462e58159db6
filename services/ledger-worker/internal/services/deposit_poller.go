package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/chain"
	kafkautils "github.com/nimeshabuddhika/custodial-ledger/pkg/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/observability"
	"go.uber.org/zap"
)

// DepositPoller credits unconfirmed deposits of one coin once they are deep enough.
type DepositPoller interface {
	Tick(ctx context.Context) error
	Coin() string
}

type DepositPollerConfig struct {
	Logger     *zap.Logger
	Store      ledger.Store
	Client     chain.ConfirmationClient
	Publisher  kafkautils.Publisher
	CoinSymbol string
	Threshold  int64 // confirmations required before crediting; at least 1
}

// NewDepositPoller fails on a threshold below 1: a poller that credits unmined deposits must never start.
func NewDepositPoller(cfg DepositPollerConfig) (DepositPoller, error) {
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("deposit poller %s: confirmation threshold must be at least 1, got %d", cfg.CoinSymbol, cfg.Threshold)
	}
	if cfg.Store == nil || cfg.Client == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("deposit poller %s: store, client and publisher are required", cfg.CoinSymbol)
	}
	cfg.CoinSymbol = strings.ToUpper(strings.TrimSpace(cfg.CoinSymbol))
	cfg.Logger = cfg.Logger.With(zap.String(pkg.CoinSymbol, cfg.CoinSymbol))
	return &cfg, nil
}

func (p *DepositPollerConfig) Coin() string { return p.CoinSymbol }

// Tick checks every unconfirmed deposit once. Each credit commits in its own transaction,
// taken only after the node answered, so no row lock is held across an RPC call.
// Failed RPC calls leave the deposit for the next tick. A store failure ends the tick early.
func (p *DepositPollerConfig) Tick(ctx context.Context) (err error) {
	start := time.Now()
	result := "ok"
	defer func() {
		if err != nil {
			result = "error"
		}
		observability.PollerTicks.WithLabelValues(p.CoinSymbol, result).Inc()
		observability.PollerTickDuration.WithLabelValues(p.CoinSymbol).Observe(time.Since(start).Seconds())
	}()

	deposits, err := p.Store.ListUnconfirmedDeposits(ctx, p.CoinSymbol)
	if err != nil {
		p.Logger.Error("failed_to_list_unconfirmed_deposits", zap.Error(err))
		return err
	}

	var violations []error
	credited, pending := 0, 0
	for _, deposit := range deposits {
		if ctx.Err() != nil {
			return errors.Join(append(violations, ctx.Err())...)
		}
		log := p.Logger.With(zap.String(pkg.DepositId, deposit.ID.String()), zap.String(pkg.TxHash, deposit.TxHash))

		if strings.TrimSpace(deposit.TxHash) == "" {
			observability.InvariantViolations.WithLabelValues(p.CoinSymbol, "missing_tx_hash").Inc()
			log.Error("deposit_missing_tx_hash", zap.Bool("alert", true))
			violations = append(violations, pkg.NewAppError(pkg.ErrInvariantViolationCode,
				fmt.Sprintf("deposit %s has no transaction hash", deposit.ID), pkg.ErrInvariantViolation))
			continue
		}

		depth, rpcErr := p.Client.GetConfirmations(ctx, deposit.TxHash)
		if rpcErr != nil {
			observability.RPCFailures.WithLabelValues(p.CoinSymbol, rpcFailureKind(rpcErr)).Inc()
			log.Warn("deposit_confirmation_lookup_failed", zap.Error(rpcErr))
			continue
		}
		if depth < p.Threshold {
			pending++
			log.Debug("deposit_below_threshold", zap.Int64("confirmations", depth), zap.Int64("threshold", p.Threshold))
			continue
		}

		confirmed, ok, err := p.credit(ctx, deposit)
		if err != nil {
			log.Error("deposit_credit_failed", zap.Error(err))
			return errors.Join(append(violations, err)...)
		}
		if !ok {
			log.Info("deposit_already_confirmed")
			continue
		}
		credited++
		observability.DepositsConfirmed.WithLabelValues(p.CoinSymbol).Inc()
		log.Info("deposit_confirmed",
			zap.Int64(pkg.ClientId, confirmed.ClientID),
			zap.String("amount", confirmed.Amount.String()),
			zap.Int64("confirmations", depth))

		// The credit is committed; a lost event does not undo it.
		if err := p.Publisher.Notify(ctx, pkg.QueueDepositUpdate, confirmed); err != nil {
			observability.PublishFailures.WithLabelValues(pkg.QueueDepositUpdate).Inc()
			log.Error("deposit_update_publish_failed", zap.Error(err))
		}
	}

	p.Logger.Info("deposit_poll_tick_completed",
		zap.Int("scanned", len(deposits)),
		zap.Int("credited", credited),
		zap.Int("pending", pending),
		zap.Int("violations", len(violations)),
		zap.Duration("duration", time.Since(start)))
	return errors.Join(violations...)
}

// credit confirms the deposit and adds its amount to the owner's balance in one transaction.
// ok is false when another tick or replica confirmed it first.
func (p *DepositPollerConfig) credit(ctx context.Context, deposit models.Deposit) (models.Deposit, bool, error) {
	var confirmed models.Deposit
	err := p.Store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		locked, err := tx.LockDeposit(ctx, deposit.ID)
		if err != nil {
			return err
		}
		if locked.IsConfirmed() {
			return ledger.ErrAlreadyConfirmed
		}
		confirmed, err = tx.ConfirmDeposit(ctx, locked.ID)
		if err != nil {
			return err
		}
		if err := tx.EnsureAccount(ctx, locked.ClientID, locked.CoinSymbol); err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, locked.ClientID, locked.CoinSymbol); err != nil {
			return err
		}
		_, err = tx.IncrementBalance(ctx, locked.ClientID, locked.CoinSymbol, locked.Amount)
		return err
	})
	if errors.Is(err, ledger.ErrAlreadyConfirmed) {
		return models.Deposit{}, false, nil
	}
	if err != nil {
		return models.Deposit{}, false, err
	}
	return confirmed, true, nil
}

func rpcFailureKind(err error) string {
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		return "not_found"
	case errors.Is(err, chain.ErrTxReverted):
		return "reverted"
	case errors.Is(err, chain.ErrInvalidTxHash):
		return "invalid_hash"
	case chain.IsTransient(err):
		return "transient"
	default:
		return "other"
	}
}
