package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"go.uber.org/zap"
)

type BitcoinConfig struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
	Logger     *zap.Logger
}

// BitcoinClient reads confirmations of wallet transactions from a bitcoind node.
type BitcoinClient struct {
	rpc    *rpcclient.Client
	logger *zap.Logger
}

// NewBitcoinClient connects in HTTP POST mode. The returned closer shuts the client down.
func NewBitcoinClient(cfg BitcoinConfig) (*BitcoinClient, func(), error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bitcoin rpc client: %w", err)
	}
	closer := func() {
		rpc.Shutdown()
		cfg.Logger.Info("bitcoin_rpc_client_closed")
	}
	return &BitcoinClient{rpc: rpc, logger: cfg.Logger}, closer, nil
}

// GetConfirmations uses the wallet's gettransaction, which only knows deposits to wallet addresses.
func (c *BitcoinClient) GetConfirmations(ctx context.Context, txHash string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(txHash)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTxHash, err)
	}

	type result struct {
		tx  *btcjson.GetTransactionResult
		err error
	}
	future := c.rpc.GetTransactionAsync(hash)
	done := make(chan result, 1)
	go func() {
		tx, err := future.Receive()
		done <- result{tx: tx, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return 0, mapBitcoinError(r.err)
		}
		// bitcoind reports conflicted (double spent) transactions with negative depth
		if r.tx.Confirmations < 0 {
			return 0, ErrTxReverted
		}
		return r.tx.Confirmations, nil
	}
}

func mapBitcoinError(err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey {
			return fmt.Errorf("%w: %v", ErrTxNotFound, rpcErr)
		}
		if rpcErr.Code == btcjson.ErrRPCInWarmup {
			return fmt.Errorf("%w: %v", ErrTransient, rpcErr)
		}
		return fmt.Errorf("bitcoin rpc: %w", rpcErr)
	}
	// anything below the JSON-RPC layer is connectivity
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
