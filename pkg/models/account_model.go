package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account maps to table `accounts`. (ClientID, CoinSymbol) is the primary key.
type Account struct {
	ClientID   int64           `json:"clientId"`
	CoinSymbol string          `json:"coinSymbol"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
