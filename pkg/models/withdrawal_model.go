package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal maps to table `withdrawals`. (ClientID, Key) is unique.
type Withdrawal struct {
	ID         uuid.UUID       `json:"id"`
	ClientID   int64           `json:"clientId"`
	CoinSymbol string          `json:"coinSymbol"`
	Amount     decimal.Decimal `json:"amount"`
	Recipient  string          `json:"recipient"`
	Memo       string          `json:"memo,omitempty"`
	Key        string          `json:"key"`
	CreatedAt  time.Time       `json:"createdAt"`
}
