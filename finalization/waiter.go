// Package finalization blocks until a broadcast transaction satisfies a
// Policy: a bare receipt, N confirmations, or the sender's nonce moving past
// the transaction with an optional grace period that restarts on reorgs.
package finalization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tranvictor/submitter/canceltoken"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/metrics"
)

const DefaultReceiptPollInterval = time.Second

// Waiter waits for finalization using one chain reader.
type Waiter struct {
	Client chain.Reader
	// ReceiptPollInterval drives the receipt and confirmation watch.
	ReceiptPollInterval time.Duration
	Metrics             metrics.Metricer
}

func NewWaiter(client chain.Reader) *Waiter {
	return &Waiter{
		Client:              client,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		Metrics:             metrics.NoopMetrics{},
	}
}

func (w *Waiter) metrics() metrics.Metricer {
	if w.Metrics == nil {
		return metrics.NoopMetrics{}
	}
	return w.Metrics
}

func (w *Waiter) receiptPoll() time.Duration {
	if w.ReceiptPollInterval <= 0 {
		return DefaultReceiptPollInterval
	}
	return w.ReceiptPollInterval
}

// Wait blocks until p is final according to policy, the policy timeout
// elapses (ErrFinalizationTimeout), token is cancelled (ErrCancelled) or ctx
// is done.
//
// For NonceIncrease the returned receipt is nil when the nonce was consumed
// by a different transaction, e.g. another attempt of the same submission.
func (w *Waiter) Wait(ctx context.Context, p *chain.Pending, policy Policy, token *canceltoken.Token) (*types.Receipt, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := token.Check(); err != nil {
		return nil, err
	}

	ctx, release := canceltoken.WithContext(ctx, token)
	defer release()
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, policy.Timeout, ErrFinalizationTimeout)
		defer cancel()
	}

	receipt, err := w.wait(ctx, p, policy, token)
	if err == nil {
		return receipt, nil
	}
	if token.Cancelled() {
		return nil, canceltoken.ErrCancelled
	}
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrFinalizationTimeout) {
		w.metrics().RecordFinalizationTimeout()
		logger.WithFields(logger.Fields{
			"tx_hash": p.Hash().Hex(),
			"policy":  policy.String(),
			"timeout": policy.Timeout.String(),
		}).Warn("finalization timed out")
		return nil, fmt.Errorf("%w: tx %s, policy %s, timeout %s", ErrFinalizationTimeout, p.Hash().Hex(), policy, policy.Timeout)
	}
	return nil, err
}

func (w *Waiter) wait(ctx context.Context, p *chain.Pending, policy Policy, token *canceltoken.Token) (*types.Receipt, error) {
	switch policy.What {
	case Receipt:
		return w.waitConfirmations(ctx, p, 0)
	case Confirmations:
		return w.waitConfirmations(ctx, p, policy.Confirmations)
	default:
		if err := w.WaitNonceIncrease(ctx, p.From, p.Nonce, policy.PollInterval, policy.Extra, token); err != nil {
			return nil, err
		}
		receipt, err := w.Client.TransactionReceipt(ctx, p.Hash())
		if err != nil {
			if chain.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return receipt, token.Check()
	}
}

// waitConfirmations resolves on the first receipt having at least required
// confirmations. A required count of zero accepts any receipt.
func (w *Waiter) waitConfirmations(ctx context.Context, p *chain.Pending, required uint64) (*types.Receipt, error) {
	events := chain.Watch(ctx, w.Client, p.Hash(), w.receiptPoll())
	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Receipt == nil {
			logger.WithFields(logger.Fields{
				"tx_hash": p.Hash().Hex(),
			}).Warn("receipt disappeared, confirmations restart")
			continue
		}
		if ev.Confirmations >= required {
			return ev.Receipt, nil
		}
	}
	return nil, context.Cause(ctx)
}

type nonceState int

const (
	waitingForIncrease nonceState = iota
	waitingExtra
)

// WaitNonceIncrease polls the mined nonce of addr until it exceeds initial.
// With extra set it then keeps polling until extra.Blocks blocks or
// extra.Time passed since the increase was seen. If the nonce falls back to
// initial or below meanwhile, the increase was undone by a reorg and the wait
// starts over.
func (w *Waiter) WaitNonceIncrease(
	ctx context.Context,
	addr common.Address,
	initial uint64,
	poll time.Duration,
	extra *Extra,
	token *canceltoken.Token,
) error {
	var (
		state      = waitingForIncrease
		extraBlock uint64
		extraStart time.Time
	)
	for {
		if err := token.Check(); err != nil {
			return err
		}
		nonce, err := w.Client.NonceAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		if err := token.Check(); err != nil {
			return err
		}

		switch state {
		case waitingForIncrease:
			if nonce > initial {
				if !extra.enabled() {
					return nil
				}
				block, err := w.Client.BlockNumber(ctx)
				if err != nil {
					return err
				}
				state, extraBlock, extraStart = waitingExtra, block, time.Now()
				logger.WithFields(logger.Fields{
					"wallet":      addr.Hex(),
					"nonce":       nonce,
					"block":       block,
					"extra_block": extra.Blocks,
					"extra_time":  extra.Time.String(),
				}).Debug("nonce increased, waiting extra")
			}
		case waitingExtra:
			if nonce <= initial {
				w.metrics().RecordReorg()
				logger.WithFields(logger.Fields{
					"wallet":        addr.Hex(),
					"nonce":         nonce,
					"initial_nonce": initial,
					"since_block":   extraBlock,
				}).Warn("nonce fell back while waiting extra, possible reorg")
				state, extraBlock, extraStart = waitingForIncrease, 0, time.Time{}
				break
			}
			if extra.Time > 0 && time.Since(extraStart) >= extra.Time {
				return nil
			}
			if extra.Blocks > 0 {
				block, err := w.Client.BlockNumber(ctx)
				if err != nil {
					return err
				}
				if block >= extraBlock+extra.Blocks {
					return nil
				}
			}
		}

		if err := canceltoken.Sleep(ctx, poll, token); err != nil {
			return err
		}
	}
}
