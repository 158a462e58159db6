package assets

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const StandardERC20 = "ERC20"

// EtherPlugin validates Ethereum account addresses.
type EtherPlugin struct {
	symbol string
}

func NewEtherPlugin(symbol string) *EtherPlugin {
	return &EtherPlugin{symbol: normalize(symbol)}
}

func (p *EtherPlugin) Symbol() string { return p.symbol }
func (p *EtherPlugin) Chain() Chain   { return ChainEthereum }

// Decimals is 18: one wei.
func (p *EtherPlugin) Decimals() int32 { return 18 }

func (p *EtherPlugin) IsValidAddress(addr string) bool {
	return isValidEthereumAddress(addr)
}

// ERC20Plugin is a token living on Ethereum. Recipients follow the Ether address rules.
type ERC20Plugin struct {
	symbol string
	token  TokenMetadata
}

func NewERC20Plugin(symbol, contract string, decimals int32) (*ERC20Plugin, error) {
	if !isValidEthereumAddress(contract) {
		return nil, fmt.Errorf("token %s: invalid contract address %q", symbol, contract)
	}
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("token %s: decimals %d out of range", symbol, decimals)
	}
	return &ERC20Plugin{
		symbol: normalize(symbol),
		token: TokenMetadata{
			Contract: common.HexToAddress(contract).Hex(),
			Decimals: decimals,
			Standard: StandardERC20,
		},
	}, nil
}

func (p *ERC20Plugin) Symbol() string       { return p.symbol }
func (p *ERC20Plugin) Chain() Chain         { return ChainEthereum }
func (p *ERC20Plugin) Token() TokenMetadata { return p.token }
func (p *ERC20Plugin) Decimals() int32      { return p.token.Decimals }

func (p *ERC20Plugin) IsValidAddress(addr string) bool {
	return isValidEthereumAddress(addr)
}

// isValidEthereumAddress requires 0x-prefixed hex. All-lower and all-upper input skips the
// EIP-55 check; mixed case must match the checksum.
func isValidEthereumAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	if !common.IsHexAddress(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	// Hex() always renders a lower-case 0x prefix
	return common.HexToAddress(addr).Hex() == "0x"+body
}
