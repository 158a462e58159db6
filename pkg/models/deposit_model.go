package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/shopspring/decimal"
)

// Deposit maps to table `deposits`
type Deposit struct {
	ID         uuid.UUID         `json:"id"`
	ClientID   int64             `json:"clientId"`
	CoinSymbol string            `json:"coinSymbol"`
	Amount     decimal.Decimal   `json:"amount"`
	TxHash     string            `json:"txHash"`
	Status     pkg.DepositStatus `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func (d Deposit) IsConfirmed() bool {
	return d.Status == pkg.DepositStatusConfirmed
}
