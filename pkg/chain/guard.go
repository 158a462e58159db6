package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// BreakerMinRequests is the request count below which the breaker never opens.
	BreakerMinRequests uint32 = 10
	// BreakerFailingRatio is the failure ratio that opens the breaker.
	BreakerFailingRatio = 0.6
)

// Limiter is satisfied by *pkg.DistributedLimiter.
type Limiter interface {
	Allow(ctx context.Context) bool
}

type GuardConfig struct {
	Name        string
	Client      ConfirmationClient
	Timeout     time.Duration // per attempt
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	OpenTimeout time.Duration // how long the breaker stays open
	Limiter     Limiter       // optional
	Logger      *zap.Logger
}

// Guard bounds every call to a chain node in time, retries transient failures and
// stops calling a node that keeps failing.
type Guard struct {
	name        string
	client      ConfirmationClient
	timeout     time.Duration
	maxRetries  uint64
	baseBackoff time.Duration
	maxBackoff  time.Duration
	limiter     Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		name:        cfg.Name,
		client:      cfg.Client,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger,
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if g.baseBackoff <= 0 {
		g.baseBackoff = 200 * time.Millisecond
	}
	if g.maxBackoff <= 0 {
		g.maxBackoff = 5 * time.Second
	}
	g.breaker = newCircuitBreaker(cfg.Name, cfg.OpenTimeout, cfg.Logger)
	return g
}

func newCircuitBreaker(name string, openTimeout time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= BreakerMinRequests && ratio >= BreakerFailingRatio
		},
		IsSuccessful: isNodeAnswer,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("chain_circuit_breaker_state_changed",
				zap.String("node", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// GetConfirmations implements ConfirmationClient.
func (g *Guard) GetConfirmations(ctx context.Context, txHash string) (int64, error) {
	var depth int64
	attempt := 0
	operation := func() error {
		attempt++
		if g.limiter != nil && !g.limiter.Allow(ctx) {
			return fmt.Errorf("%w: %w", ErrTransient, pkg.ErrRateLimitExceeded)
		}
		res, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.client.GetConfirmations(callCtx, txHash)
		})
		switch {
		case err == nil:
			depth = res.(int64)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			// the node is considered down; leave it alone until the next tick
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrTransient, err))
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case IsTransient(err):
			g.logger.Debug("chain_rpc_attempt_failed",
				zap.String("node", g.name),
				zap.String(pkg.TxHash, txHash),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseBackoff
	b.MaxInterval = g.maxBackoff
	b.MaxElapsedTime = 0 // bounded by MaxRetries and ctx instead
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, g.maxRetries), ctx))
	if err != nil {
		return 0, err
	}
	return depth, nil
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}
