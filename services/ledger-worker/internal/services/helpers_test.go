package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/assets"
	"github.com/stretchr/testify/require"
)

const (
	btcAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	ethAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func testRegistry(t *testing.T) *assets.Registry {
	t.Helper()
	usdc, err := assets.NewERC20Plugin("USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6)
	require.NoError(t, err)
	r, err := assets.NewRegistry(
		assets.NewBitcoinPlugin("BTC", &chaincfg.MainNetParams),
		assets.NewEtherPlugin("ETH"),
		usdc,
	)
	require.NoError(t, err)
	return r
}

func withdrawalBody(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

type publishedEvent struct {
	Channel string
	Payload any
}

// recordingPublisher captures events instead of sending them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (r *recordingPublisher) Notify(_ context.Context, channel string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, publishedEvent{Channel: channel, Payload: payload})
	return nil
}

func (r *recordingPublisher) Events() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedEvent(nil), r.events...)
}
