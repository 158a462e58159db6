package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/assets"
	kafkautils "github.com/nimeshabuddhika/custodial-ledger/pkg/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/views"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DepositRecorder stores deposits reported by the detection side as unconfirmed.
// Nothing is credited here; the poller credits once the transaction is deep enough.
type DepositRecorder interface {
	RecordDeposit(ctx context.Context, traceID string, req views.DepositRequest) (models.Deposit, error)
}

type DepositRecorderConfig struct {
	Logger    *zap.Logger
	Store     ledger.Store
	Registry  *assets.Registry
	Publisher kafkautils.Publisher
}

func NewDepositRecorder(cfg DepositRecorderConfig) DepositRecorder {
	return &cfg
}

func (d *DepositRecorderConfig) RecordDeposit(ctx context.Context, traceID string, req views.DepositRequest) (models.Deposit, error) {
	if req.ClientID == nil || *req.ClientID < 0 {
		return models.Deposit{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "clientId must be a non-negative integer", nil)
	}
	plugin, ok := d.Registry.Lookup(req.CoinSymbol)
	if !ok {
		return models.Deposit{}, pkg.NewAppError(pkg.ErrUnsupportedAssetCode,
			fmt.Sprintf("coin %s is not supported", strings.ToUpper(strings.TrimSpace(req.CoinSymbol))), nil)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return models.Deposit{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "amount must be a positive decimal", err)
	}
	if err := assets.CheckAmount(plugin, amount); err != nil {
		return models.Deposit{}, pkg.NewAppError(pkg.ErrInvalidAmountCode, "amount not representable", err)
	}
	txHash := strings.TrimSpace(req.TxHash)
	if txHash == "" {
		return models.Deposit{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "txHash is required", nil)
	}

	deposit, err := d.Store.CreateDeposit(ctx, models.Deposit{
		ClientID:   *req.ClientID,
		CoinSymbol: plugin.Symbol(),
		Amount:     amount,
		TxHash:     txHash,
	})
	if err != nil {
		return models.Deposit{}, err
	}
	log := d.Logger.With(
		zap.String(pkg.TraceId, traceID),
		zap.String(pkg.DepositId, deposit.ID.String()),
		zap.Int64(pkg.ClientId, deposit.ClientID),
		zap.String(pkg.CoinSymbol, deposit.CoinSymbol))
	log.Info("deposit_recorded", zap.String(pkg.TxHash, deposit.TxHash), zap.String("amount", deposit.Amount.String()))

	if err := d.Publisher.Notify(ctx, pkg.QueueDepositCreation, deposit); err != nil {
		observability.PublishFailures.WithLabelValues(pkg.QueueDepositCreation).Inc()
		log.Error("deposit_creation_publish_failed", zap.Error(err))
	}
	return deposit, nil
}
