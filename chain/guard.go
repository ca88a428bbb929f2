package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tranvictor/submitter/internal/circuitbreaker"
)

// Guard wraps a Client with a circuit breaker so that a failing endpoint is
// not hammered by every waiter's poll loop. Answers from the node that are
// not transport failures (not found, nonce too low, reverts) do not count as
// failures.
type Guard struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
}

var _ Client = (*Guard)(nil)

func NewGuard(inner Client, cfg circuitbreaker.Config) *Guard {
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			logger.WithFields(logger.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("rpc circuit breaker state changed")
		}
	}
	return &Guard{inner: inner, breaker: circuitbreaker.New(cfg)}
}

// Breaker exposes the underlying circuit breaker.
func (g *Guard) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

func (g *Guard) record(err error) error {
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case IsNotFound(err), IsReplacement(err), IsExecutionReverted(err):
		g.breaker.RecordSuccess()
	default:
		g.breaker.RecordFailure()
	}
	return err
}

func guarded[T any](g *Guard, call func() (T, error)) (T, error) {
	if !g.breaker.Allow() {
		var zero T
		return zero, ErrCircuitOpen
	}
	v, err := call()
	return v, g.record(err)
}

func (g *Guard) ChainID(ctx context.Context) (*big.Int, error) {
	return guarded(g, func() (*big.Int, error) { return g.inner.ChainID(ctx) })
}

func (g *Guard) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return guarded(g, func() (uint64, error) { return g.inner.NonceAt(ctx, account, blockNumber) })
}

func (g *Guard) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return guarded(g, func() (*big.Int, error) { return g.inner.SuggestGasPrice(ctx) })
}

func (g *Guard) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return guarded(g, func() (*big.Int, error) { return g.inner.SuggestGasTipCap(ctx) })
}

func (g *Guard) BlockNumber(ctx context.Context) (uint64, error) {
	return guarded(g, func() (uint64, error) { return g.inner.BlockNumber(ctx) })
}

func (g *Guard) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return guarded(g, func() (*types.Receipt, error) { return g.inner.TransactionReceipt(ctx, txHash) })
}

func (g *Guard) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return guarded(g, func() (uint64, error) { return g.inner.EstimateGas(ctx, msg) })
}

func (g *Guard) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := guarded(g, func() (struct{}, error) { return struct{}{}, g.inner.SendTransaction(ctx, tx) })
	return err
}
