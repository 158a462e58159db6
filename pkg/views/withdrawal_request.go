package views

import (
	"strings"

	"github.com/shopspring/decimal"
)

// WithdrawalRequest is the body of a message on the withdrawal_creation queue.
type WithdrawalRequest struct {
	CoinSymbol string  `json:"coinSymbol" validate:"required,max=16"`
	Amount     string  `json:"amount" validate:"required,max=80"`
	Recipient  string  `json:"recipient" validate:"required,max=256"`
	Memo       *string `json:"memo,omitempty" validate:"omitempty,max=256"`
	Key        string  `json:"key" validate:"required,max=128"`
}

// Normalize upper-cases the coin symbol and trims the amount and recipient. Key stays byte-exact:
// it is the client's idempotency key and " k1" is not "k1".
func (r *WithdrawalRequest) Normalize() {
	r.CoinSymbol = strings.ToUpper(strings.TrimSpace(r.CoinSymbol))
	r.Amount = strings.TrimSpace(r.Amount)
	r.Recipient = strings.TrimSpace(r.Recipient)
}

// ParsedAmount returns the amount as a decimal. Callers must still check it is positive.
func (r WithdrawalRequest) ParsedAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(r.Amount)
}

func (r WithdrawalRequest) MemoValue() string {
	if r.Memo == nil {
		return ""
	}
	return *r.Memo
}
