package chain

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/assert"
)

func TestMapBitcoinError(t *testing.T) {
	assert.ErrorIs(t, mapBitcoinError(btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "Invalid or non-wallet transaction id")), ErrTxNotFound)
	assert.ErrorIs(t, mapBitcoinError(btcjson.NewRPCError(btcjson.ErrRPCInWarmup, "Loading block index")), ErrTransient)
	assert.ErrorIs(t, mapBitcoinError(errors.New("dial tcp: connection refused")), ErrTransient)

	err := mapBitcoinError(btcjson.NewRPCError(btcjson.ErrRPCMisc, "wallet locked"))
	assert.False(t, IsTransient(err))
	assert.NotErrorIs(t, err, ErrTxNotFound)
}
