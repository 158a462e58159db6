// Package assets holds the per-coin plugins the ledger consults before accepting a withdrawal.
package assets

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Chain identifies the network family a coin settles on.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
)

// Plugin describes one supported coin.
type Plugin interface {
	// Symbol is the upper-case coin symbol, e.g. BTC.
	Symbol() string
	Chain() Chain
	// IsValidAddress reports whether addr is a well-formed recipient on the coin's network.
	IsValidAddress(addr string) bool
	// Decimals is the smallest unit the coin can move, as a power of ten (8 for BTC).
	Decimals() int32
}

// TokenMetadata is carried by coins issued by a contract on a host chain.
type TokenMetadata struct {
	Contract string
	Decimals int32
	Standard string
}

// TokenPlugin is implemented by plugins for contract-issued tokens.
type TokenPlugin interface {
	Plugin
	Token() TokenMetadata
}

// Registry is an immutable symbol -> plugin map built once at startup.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry indexes plugins by symbol. Two plugins claiming the same symbol is an error.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		symbol := normalize(p.Symbol())
		if symbol == "" {
			return nil, fmt.Errorf("asset plugin for chain %s has an empty symbol", p.Chain())
		}
		if _, exists := r.plugins[symbol]; exists {
			return nil, fmt.Errorf("asset plugin %s registered twice", symbol)
		}
		r.plugins[symbol] = p
	}
	return r, nil
}

// Lookup finds the plugin for a coin symbol, case-insensitively.
func (r *Registry) Lookup(symbol string) (Plugin, bool) {
	p, ok := r.plugins[normalize(symbol)]
	return p, ok
}

// Symbols lists the registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.plugins))
	for s := range r.plugins {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// maxAmountExponent bounds the exponent of a parsed amount literal. Anything outside it is far
// beyond any real balance or smallest unit and must not reach a NUMERIC column.
const maxAmountExponent = 96

var ErrInvalidAmount = errors.New("invalid amount")

// CheckAmount rejects amounts that are not positive, that are finer than the coin's smallest
// unit, or whose exponent is absurd. It never expands the literal, so "1e-20000" is cheap.
func CheckAmount(p Plugin, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	exp := amount.Exponent()
	if exp > maxAmountExponent || exp < -maxAmountExponent {
		return fmt.Errorf("%w: exponent %d out of range", ErrInvalidAmount, exp)
	}
	if !amount.Truncate(p.Decimals()).Equal(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), p.Decimals())
	}
	return nil
}
