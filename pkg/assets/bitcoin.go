package assets

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// BitcoinPlugin validates addresses for one Bitcoin network.
type BitcoinPlugin struct {
	symbol string
	params *chaincfg.Params
}

func NewBitcoinPlugin(symbol string, params *chaincfg.Params) *BitcoinPlugin {
	return &BitcoinPlugin{symbol: normalize(symbol), params: params}
}

func (p *BitcoinPlugin) Symbol() string { return p.symbol }
func (p *BitcoinPlugin) Chain() Chain   { return ChainBitcoin }

// Decimals is 8: one satoshi.
func (p *BitcoinPlugin) Decimals() int32 { return 8 }

// IsValidAddress accepts any standard address type encoded for the plugin's network.
func (p *BitcoinPlugin) IsValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	decoded, err := btcutil.DecodeAddress(addr, p.params)
	if err != nil {
		return false
	}
	return decoded.IsForNet(p.params)
}

// BitcoinParams maps a network name to its chain parameters.
func BitcoinParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}
