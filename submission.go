package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tranvictor/submitter/addresslock"
	"github.com/tranvictor/submitter/canceltoken"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/finalization"
	"github.com/tranvictor/submitter/journal"
	"github.com/tranvictor/submitter/metrics"
)

// submission is the state shared by the attempts of one Submit call.
type submission struct {
	id       string
	req      *TxRequest
	defaults Defaults
	from     common.Address
	signer   chain.Signer
	chainID  *big.Int
	nonce    uint64
	gasLimit uint64
	plan     Plan
	pricer   *gasPricer

	// sendToken aborts attempts that were not broadcast yet.
	sendToken *canceltoken.Token
	// receiptToken aborts the receipt waits of broadcast attempts.
	receiptToken *canceltoken.Token

	// priced[i] is closed once attempt i priced itself or gave up, so
	// prices follow plan order even when delays are equal.
	priced []chan struct{}

	results []attemptResult

	mu sync.Mutex
	// signed holds every attempt handed to the node, in order.
	signed []*types.Transaction
}

type attemptResult struct {
	tx      *types.Transaction
	sent    bool
	receipt *types.Receipt
	err     error
}

func (r attemptResult) succeeded() bool {
	return r.err == nil && r.receipt != nil
}

// ownReceipt is false when the attempt resolved to the receipt of another
// attempt that was mined in its place.
func (r attemptResult) ownReceipt() bool {
	return r.receipt != nil && r.receipt.TxHash == r.tx.Hash()
}

func (sub *submission) addSigned(tx *types.Transaction) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.signed = append(sub.signed, tx)
}

func (sub *submission) signedTxs() []*types.Transaction {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return append([]*types.Transaction(nil), sub.signed...)
}

func (sub *submission) hashes() []common.Hash {
	var out []common.Hash
	for _, r := range sub.results {
		if r.sent {
			out = append(out, r.tx.Hash())
		}
	}
	return out
}

func (s *Submitter) submit(ctx context.Context, req *TxRequest) (receipt *types.Receipt, sub *submission, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordSubmission(outcomeOf(err), time.Since(start))
	}()

	signer, err := s.signer(req.from)
	if err != nil {
		return nil, nil, err
	}
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, nil, err
	}
	sub = &submission{
		id:           uuid.New().String(),
		req:          req,
		defaults:     s.Defaults(),
		from:         req.from,
		signer:       signer,
		chainID:      chainID,
		plan:         req.plan.Normalize(),
		pricer:       newGasPricer(s.client, req.gasPrice, req.txType == types.DynamicFeeTxType),
		sendToken:    canceltoken.New("send"),
		receiptToken: canceltoken.New("receipt"),
	}
	defer sub.sendToken.Cancel()
	defer sub.receiptToken.Cancel()

	lock, err := s.lock(ctx, req.from)
	if err != nil {
		return nil, nil, err
	}
	defer s.unlock(lock)

	sub.nonce, err = s.acquireNonce(ctx, sub)
	if err != nil {
		return nil, sub, err
	}
	sub.gasLimit, err = s.gasLimit(ctx, req)
	if err != nil {
		return nil, sub, err
	}

	logger.WithFields(logger.Fields{
		"submission_id": sub.id,
		"wallet":        sub.from.Hex(),
		"nonce":         sub.nonce,
		"gas_limit":     sub.gasLimit,
		"attempts":      len(sub.plan),
		"policy":        req.policy.String(),
	}).Info("SUBMIT")

	sub.results = make([]attemptResult, len(sub.plan))
	sub.priced = make([]chan struct{}, len(sub.plan))
	for i := range sub.priced {
		sub.priced[i] = make(chan struct{})
	}

	// the attempts' background waits end with the group
	g, gctx := errgroup.WithContext(ctx)
	for i := range sub.plan {
		i := i
		g.Go(func() error {
			res := s.runAttempt(gctx, sub, i)
			sub.settle(res)
			sub.results[i] = res
			// only the caller giving up fails the group
			return ctx.Err()
		})
	}
	interrupted := g.Wait()

	receipt, err = sub.outcome()
	if interrupted != nil && minedReceipt(receipt, err) == nil {
		err = interrupted
	}
	s.record(sub, receipt, err)

	if mined := minedReceipt(receipt, err); mined != nil && req.txMinedHook != nil {
		if hookErr := req.txMinedHook(sub.txByHash(mined.TxHash), mined); hookErr != nil {
			err = errors.Join(err, fmt.Errorf("tx mined hook error: %w", hookErr))
		}
	}
	if err != nil {
		return nil, sub, err
	}
	logger.WithFields(logger.Fields{
		"submission_id": sub.id,
		"wallet":        sub.from.Hex(),
		"nonce":         sub.nonce,
		"tx_hash":       receipt.TxHash.Hex(),
		"block":         receipt.BlockNumber,
	}).Info("SUCCESS")
	return receipt, sub, nil
}

func (s *Submitter) lock(ctx context.Context, wallet common.Address) (addresslock.Lock, error) {
	start := time.Now()
	lock, err := s.locker.Lock(ctx, wallet)
	s.metrics.RecordLockWait(time.Since(start), errors.Is(err, addresslock.ErrLockTimeout))
	if err != nil {
		return lock, err
	}
	logger.WithFields(logger.Fields{
		"wallet":  wallet.Hex(),
		"lock_id": lock.ID,
		"waited":  time.Since(start).String(),
	}).Debug("LOCK")
	return lock, nil
}

func (s *Submitter) unlock(lock addresslock.Lock) {
	if err := s.locker.Release(lock); err != nil {
		logger.WithFields(logger.Fields{
			"wallet":  lock.Address.Hex(),
			"lock_id": lock.ID,
			"error":   err,
		}).Warn("couldn't release address lock")
		return
	}
	logger.WithFields(logger.Fields{
		"wallet":  lock.Address.Hex(),
		"lock_id": lock.ID,
	}).Debug("UNLOCK")
}

func (s *Submitter) gasLimit(ctx context.Context, req *TxRequest) (uint64, error) {
	if req.gasLimit != 0 {
		return req.gasLimit + req.extraGasLimit, nil
	}
	estimated, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.from,
		To:    req.to,
		Value: req.value,
		Data:  req.data,
	})
	if err != nil {
		err = errors.Join(ErrEstimateGasFailed, fmt.Errorf("couldn't estimate gas. The tx is meant to revert or network error. Detail: %w", err))
		if chain.IsExecutionReverted(err) {
			return 0, rejected(err, nil, nil)
		}
		return 0, err
	}
	return applyGasBuffer(estimated, req.gasBufferPercent, req.extraGasLimit), nil
}

// runAttempt performs attempt i: wait for its delay, price, sign, broadcast,
// then wait for its receipt and its finalization.
func (s *Submitter) runAttempt(ctx context.Context, sub *submission, i int) attemptResult {
	entry := sub.plan[i]
	pricedOnce := false
	markPriced := func() {
		if !pricedOnce {
			pricedOnce = true
			close(sub.priced[i])
		}
	}
	defer markPriced()

	if err := canceltoken.Sleep(ctx, entry.After, sub.sendToken); err != nil {
		return attemptResult{err: err}
	}
	if i > 0 {
		select {
		case <-sub.priced[i-1]:
		case <-sub.sendToken.Done():
			return attemptResult{err: canceltoken.ErrCancelled}
		case <-ctx.Done():
			return attemptResult{err: ctx.Err()}
		}
	}
	price, tip, err := sub.pricer.next(ctx, entry.PriceFactor)
	markPriced()
	if err != nil {
		return attemptResult{err: err}
	}
	if err := sub.sendToken.Check(); err != nil {
		return attemptResult{err: err}
	}

	tx := sub.buildTx(price, tip)
	if hook := sub.req.beforeSendHook; hook != nil {
		if err := hook(tx, nil); err != nil {
			return attemptResult{err: errors.Join(ErrBeforeSendHook, err)}
		}
	}
	signed, err := sub.signer.Sign(ctx, tx)
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to sign transaction: %w", err)}
	}
	if signer, err := types.Sender(types.LatestSignerForChainID(sub.chainID), signed); err != nil || signer != sub.from {
		return attemptResult{tx: signed, err: fmt.Errorf("%w: expected %s", ErrSignerMismatch, sub.from.Hex())}
	}

	fields := logger.Fields{
		"submission_id": sub.id,
		"wallet":        sub.from.Hex(),
		"nonce":         sub.nonce,
		"resubmit":      i,
		"tx_hash":       signed.Hash().Hex(),
		"gas_price":     price.String(),
	}
	if i > 0 {
		s.metrics.RecordResubmission()
	}
	sub.addSigned(signed)
	sendErr := s.client.SendTransaction(ctx, signed)
	if hook := sub.req.afterSendHook; hook != nil {
		if err := hook(signed, sendErr); err != nil && sendErr == nil {
			logger.WithFields(with(fields, "error", err)).Warn("after send hook error")
		}
	}
	if sendErr != nil {
		logger.WithFields(with(fields, "error", sendErr)).Warn("RESUBMIT ERROR")
		return attemptResult{tx: signed, err: rejected(sendErr, signed, nil)}
	}
	s.metrics.RecordBroadcast()
	logger.WithFields(fields).Info("SEND")
	s.journalPut(sub, i, signed, journal.StatusSent, nil)

	receipt, err := s.awaitAttempt(ctx, sub, chain.NewPending(signed, sub.from))
	if receipt != nil {
		logger.WithFields(with(with(fields, "block", receipt.BlockNumber), "status", receipt.Status)).Info("RECEIPT")
	}
	return attemptResult{tx: signed, sent: true, receipt: receipt, err: err}
}

type waitResult struct {
	receipt *types.Receipt
	err     error
}

// awaitAttempt waits for the receipt of p under the shared receipt token and
// for its finalization under a token of its own. The finalization wait starts
// right away, so the policy timeout runs from the broadcast.
func (s *Submitter) awaitAttempt(ctx context.Context, sub *submission, p *chain.Pending) (*types.Receipt, error) {
	policy := sub.req.policy
	var deadline time.Time
	if policy.Timeout > 0 {
		deadline = time.Now().Add(policy.Timeout)
	}

	receiptPolicy := finalization.ForReceipt()
	var fin *finalizing
	if policy.What == finalization.Receipt {
		// the receipt is the finalization, it carries the timeout
		receiptPolicy = receiptPolicy.WithTimeout(policy.Timeout)
	} else {
		fin = s.finalize(ctx, p, policy)
	}
	defer func() {
		if fin != nil {
			fin.token.Cancel()
		}
	}()
	receiptCh := make(chan waitResult, 1)
	go func() {
		r, err := s.waiter.Wait(ctx, p, receiptPolicy, sub.receiptToken)
		receiptCh <- waitResult{r, err}
	}()

	var (
		receipt *types.Receipt
		final   bool
		finCh   <-chan waitResult
	)
	if fin != nil {
		finCh = fin.done
	}
	for receipt == nil {
		select {
		case res := <-receiptCh:
			if res.err != nil {
				return nil, res.err
			}
			receipt = res.receipt
		case res := <-finCh:
			if res.err != nil {
				return nil, res.err
			}
			if res.receipt == nil {
				// another transaction took the nonce
				mined, tx, err := s.minedAttempt(ctx, sub)
				if err != nil {
					return nil, err
				}
				if mined == nil {
					return nil, fmt.Errorf("%w: nonce %d", ErrNonceConsumed, sub.nonce)
				}
				p, res.receipt = chain.NewPending(tx, sub.from), mined
			}
			receipt, final = res.receipt, true
		}
	}

	// a receipt, whatever its status, ends the race
	sub.sendToken.Cancel()
	sub.receiptToken.Cancel()

	if !final && fin != nil {
		var err error
		p, receipt, err = s.follow(ctx, sub, fin, policy, deadline, receipt)
		if err != nil {
			return receipt, err
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, rejected(ErrTxReverted, p.Tx, receipt)
	}
	return receipt, nil
}

// finalizing is a running finalization wait.
type finalizing struct {
	pending *chain.Pending
	token   *canceltoken.Token
	done    chan waitResult
}

func (s *Submitter) finalize(ctx context.Context, p *chain.Pending, policy finalization.Policy) *finalizing {
	f := &finalizing{
		pending: p,
		token:   canceltoken.New("finalization"),
		done:    make(chan waitResult, 1),
	}
	go func() {
		r, err := s.waiter.Wait(ctx, p, policy, f.token)
		f.done <- waitResult{r, err}
	}()
	return f
}

// follow waits for fin once receipt was seen. If a reorg takes the
// transaction off the chain and another attempt of sub is mined in its place,
// the wait moves to that attempt with what is left of the timeout. The
// pending transaction the returned receipt belongs to comes along with it. On
// error the receipt is the last one seen on chain.
func (s *Submitter) follow(
	ctx context.Context,
	sub *submission,
	fin *finalizing,
	policy finalization.Policy,
	deadline time.Time,
	receipt *types.Receipt,
) (*chain.Pending, *types.Receipt, error) {
	poll := s.waiter.ReceiptPollInterval
	if poll <= 0 {
		poll = finalization.DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case res := <-fin.done:
			if res.err != nil {
				return fin.pending, receipt, res.err
			}
			if res.receipt != nil {
				return fin.pending, res.receipt, nil
			}
			// the nonce moved but this transaction is gone
			mined, tx, err := s.minedAttempt(ctx, sub)
			if err != nil {
				return fin.pending, nil, err
			}
			if mined == nil {
				return fin.pending, nil, fmt.Errorf("%w: nonce %d", ErrNonceConsumed, sub.nonce)
			}
			return chain.NewPending(tx, sub.from), mined, nil
		case <-ticker.C:
			if policy.What != finalization.Confirmations {
				continue
			}
			mined, tx, err := s.minedAttempt(ctx, sub)
			if err != nil || mined == nil || tx.Hash() == fin.pending.Hash() {
				continue
			}
			remaining := policy.Timeout
			if !deadline.IsZero() {
				remaining = time.Until(deadline)
				if remaining <= 0 {
					return chain.NewPending(tx, sub.from), mined, fmt.Errorf("%w: tx %s, policy %s, timeout %s",
						finalization.ErrFinalizationTimeout, fin.pending.Hash().Hex(), policy, policy.Timeout)
				}
			}
			logger.WithFields(logger.Fields{
				"submission_id": sub.id,
				"wallet":        sub.from.Hex(),
				"nonce":         sub.nonce,
				"tx_hash":       fin.pending.Hash().Hex(),
				"mined_tx_hash": tx.Hash().Hex(),
				"block":         mined.BlockNumber,
			}).Warn("transaction reorged out, following the mined attempt")
			fin.token.Cancel()
			*fin = *s.finalize(ctx, chain.NewPending(tx, sub.from), policy.WithTimeout(remaining))
			receipt = mined
		case <-ctx.Done():
			return fin.pending, receipt, ctx.Err()
		}
	}
}

// minedAttempt returns the receipt and transaction of the attempt of sub that
// is on chain right now, or nil when none is.
func (s *Submitter) minedAttempt(ctx context.Context, sub *submission) (*types.Receipt, *types.Transaction, error) {
	for _, tx := range sub.signedTxs() {
		receipt, err := s.client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			if chain.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		if receipt != nil {
			return receipt, tx, nil
		}
	}
	return nil, nil, nil
}

// settle cancels the shared tokens after an attempt finished with an error.
// Errors saying the nonce was taken, and cancellations, only stop the
// receipt waits after the grace period: the attempt that took the nonce may
// be about to report its receipt. A finalization timeout hit before any
// receipt only ends its own attempt, the later ones still go out.
func (sub *submission) settle(res attemptResult) {
	if res.err == nil {
		return
	}
	if res.receipt == nil && errors.Is(res.err, finalization.ErrFinalizationTimeout) {
		return
	}
	sub.sendToken.Cancel()
	if chain.IsReplacement(res.err) || canceltoken.IsCancelled(res.err) || errors.Is(res.err, ErrNonceConsumed) {
		sub.receiptToken.CancelAfter(sub.defaults.ReplacedGrace)
		return
	}
	sub.receiptToken.Cancel()
}

func (sub *submission) buildTx(price, tip *big.Int) *types.Transaction {
	req := sub.req
	if req.txType == types.DynamicFeeTxType {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   sub.chainID,
			Nonce:     sub.nonce,
			GasTipCap: tip,
			GasFeeCap: price,
			Gas:       sub.gasLimit,
			To:        req.to,
			Value:     req.value,
			Data:      req.data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    sub.nonce,
		GasPrice: price,
		Gas:      sub.gasLimit,
		To:       req.to,
		Value:    req.value,
		Data:     req.data,
	})
}

// outcome picks the result of the submission: the first successful attempt,
// else the first genuine error, else the first replacement error.
func (sub *submission) outcome() (*types.Receipt, error) {
	var genuine, replaced error
	others := &multierror.Error{}
	for _, r := range sub.results {
		switch {
		case r.succeeded():
			return r.receipt, nil
		case r.err == nil, canceltoken.IsCancelled(r.err):
		case chain.IsReplacement(r.err):
			if replaced == nil {
				replaced = r.err
				continue
			}
			others = multierror.Append(others, r.err)
		default:
			if genuine == nil {
				genuine = r.err
				continue
			}
			others = multierror.Append(others, r.err)
		}
	}
	surfaced := genuine
	if surfaced == nil {
		surfaced = replaced
	} else if replaced != nil {
		others = multierror.Append(others, replaced)
	}
	if surfaced == nil {
		return nil, ErrAllAttemptsCancelled
	}
	var rej *SubmissionRejectedError
	if errors.As(surfaced, &rej) && others.ErrorOrNil() != nil {
		rej.Others = others
	}
	return nil, surfaced
}

func (sub *submission) txByHash(hash common.Hash) *types.Transaction {
	for _, r := range sub.results {
		if r.tx != nil && r.tx.Hash() == hash {
			return r.tx
		}
	}
	return nil
}

// minedReceipt is the receipt a submission resolved to, including the one of
// a reverted transaction.
func minedReceipt(receipt *types.Receipt, err error) *types.Receipt {
	if receipt != nil {
		return receipt
	}
	var rej *SubmissionRejectedError
	if errors.As(err, &rej) {
		return rej.Receipt
	}
	return nil
}

// with returns a copy of fields with one more entry.
func with(fields logger.Fields, key string, value interface{}) logger.Fields {
	out := make(logger.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

// record writes the final state of every attempt to the journal and feeds
// the nonce tracker.
func (s *Submitter) record(sub *submission, receipt *types.Receipt, err error) {
	var winner common.Hash
	if receipt != nil {
		winner = receipt.TxHash
	}
	for i, r := range sub.results {
		var status journal.Status
		switch {
		case !r.sent:
			if r.err == nil || canceltoken.IsCancelled(r.err) {
				continue
			}
			status = journal.StatusFailed
		case r.tx.Hash() == winner:
			status = journal.StatusFinalized
		case r.ownReceipt() && r.receipt.Status != types.ReceiptStatusSuccessful:
			status = journal.StatusReverted
		case winner != (common.Hash{}):
			status = journal.StatusAbandoned
		case r.ownReceipt():
			// mined but not final yet
			status = journal.StatusMined
		default:
			status = journal.StatusSent
		}
		s.journalPut(sub, i, r.tx, status, r.err)

		if status == journal.StatusFinalized || status == journal.StatusReverted {
			s.nonces.RecordFinalized(sub.from, sub.chainID.Uint64(), sub.nonce)
		}
	}
}

func (s *Submitter) journalPut(sub *submission, index int, tx *types.Transaction, status journal.Status, attemptErr error) {
	a := &journal.Attempt{
		SubmissionID: sub.id,
		Wallet:       sub.from,
		Nonce:        sub.nonce,
		Index:        index,
		Status:       status,
	}
	if tx != nil {
		a.TxHash = tx.Hash()
		a.GasPrice = tx.GasPrice()
	}
	if attemptErr != nil {
		a.Error = attemptErr.Error()
	}
	if err := s.journal.Put(a); err != nil {
		logger.WithFields(logger.Fields{
			"submission_id": sub.id,
			"resubmit":      index,
			"status":        string(status),
			"error":         err,
		}).Warn("couldn't write attempt journal")
	}
}

func outcomeOf(err error) string {
	var rej *SubmissionRejectedError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &rej) && rej.Receipt != nil:
		return metrics.OutcomeReverted
	case errors.Is(err, addresslock.ErrLockTimeout):
		return metrics.OutcomeLockBusy
	case errors.Is(err, finalization.ErrFinalizationTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrAllAttemptsCancelled), canceltoken.IsCancelled(err):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeRejected
	}
}
