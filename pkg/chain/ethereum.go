package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"go.uber.org/zap"
)

// transferTopic is the ERC20 Transfer(address,address,uint256) event signature.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ethBackend is the subset of *ethclient.Client used here.
type ethBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type EthereumConfig struct {
	URL     string
	Timeout time.Duration // per HTTP request; zero uses the transport default
	Logger  *zap.Logger
}

// EthereumClient counts confirmations of Ether transfers, or of token transfers when a
// contract is set.
type EthereumClient struct {
	backend  ethBackend
	contract *common.Address
	logger   *zap.Logger
}

// DialEthereum opens one JSON-RPC connection that every Ethereum-family client can share.
func DialEthereum(ctx context.Context, cfg EthereumConfig) (*ethclient.Client, func(), error) {
	rc, err := rpc.DialOptions(ctx, cfg.URL, rpc.WithHTTPClient(utils.NewRPCHTTPClient(utils.RPCClientConfig{Timeout: cfg.Timeout})))
	if err != nil {
		return nil, nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}
	ec := ethclient.NewClient(rc)
	closer := func() {
		ec.Close()
		cfg.Logger.Info("ethereum_rpc_client_closed")
	}
	return ec, closer, nil
}

// NewEtherClient tracks plain Ether transfers.
func NewEtherClient(backend ethBackend, logger *zap.Logger) *EthereumClient {
	return &EthereumClient{backend: backend, logger: logger}
}

// NewTokenClient tracks transfers of the token issued by contract.
func NewTokenClient(backend ethBackend, contract string, logger *zap.Logger) *EthereumClient {
	addr := common.HexToAddress(contract)
	return &EthereumClient{backend: backend, contract: &addr, logger: logger}
}

func (c *EthereumClient) GetConfirmations(ctx context.Context, txHash string) (int64, error) {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTxHash, txHash)
	}
	hash := common.BytesToHash(raw)

	_, isPending, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return 0, mapEthereumError(ctx, err)
	}
	if isPending {
		return 0, nil
	}

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return 0, mapEthereumError(ctx, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return 0, ErrTxReverted
	}
	if c.contract != nil && !hasTransferFrom(receipt, *c.contract) {
		return 0, fmt.Errorf("%w: no transfer event from token contract %s", ErrTxReverted, c.contract.Hex())
	}
	if receipt.BlockNumber == nil {
		return 0, nil
	}

	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, mapEthereumError(ctx, err)
	}
	return confirmationsAt(head, receipt.BlockNumber), nil
}

func hasTransferFrom(receipt *types.Receipt, contract common.Address) bool {
	for _, l := range receipt.Logs {
		if l.Address == contract && len(l.Topics) > 0 && l.Topics[0] == transferTopic {
			return true
		}
	}
	return false
}

// confirmationsAt counts the mined block itself as the first confirmation.
func confirmationsAt(head uint64, mined *big.Int) int64 {
	block := mined.Uint64()
	if head < block {
		// load-balanced nodes can lag each other by a block or two
		return 1
	}
	return int64(head-block) + 1
}

func mapEthereumError(ctx context.Context, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %v", ErrTxNotFound, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
