// Package chain answers "how deep is this transaction?" for the coins the ledger credits.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrTxNotFound means the node does not know the transaction (yet).
	ErrTxNotFound = errors.New("chain: transaction not found")
	// ErrTxReverted means the transaction was mined but failed, or was double spent.
	ErrTxReverted = errors.New("chain: transaction reverted")
	// ErrTransient marks failures worth retrying: timeouts, connection errors, rate limits.
	ErrTransient = errors.New("chain: transient failure")
	// ErrInvalidTxHash means the stored hash cannot be a transaction id on this chain.
	ErrInvalidTxHash = errors.New("chain: invalid transaction hash")
)

// ConfirmationClient reports the number of blocks that include or build on a transaction.
// A known but unmined transaction has 0 confirmations.
type ConfirmationClient interface {
	GetConfirmations(ctx context.Context, txHash string) (int64, error)
}

// IsTransient reports whether retrying the same call may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// isNodeAnswer reports whether err is a definitive reply from a healthy node.
func isNodeAnswer(err error) bool {
	return err == nil ||
		errors.Is(err, ErrTxNotFound) ||
		errors.Is(err, ErrTxReverted) ||
		errors.Is(err, ErrInvalidTxHash)
}
