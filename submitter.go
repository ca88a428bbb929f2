// Package submitter sends transactions for a set of wallets and waits until
// they are final.
//
// Every submission holds its wallet's address lock for its whole lifetime, so
// the nonce read at the start is never used twice. A submission may broadcast
// several attempts at increasing gas prices according to its Plan; the first
// attempt to be mined wins and every other wait is abandoned.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tranvictor/jarvis/util/account"

	"github.com/tranvictor/submitter/addresslock"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/finalization"
	"github.com/tranvictor/submitter/idempotency"
	"github.com/tranvictor/submitter/internal/nonce"
	"github.com/tranvictor/submitter/journal"
	"github.com/tranvictor/submitter/metrics"
)

// Submitter manages
//  1. the signers of the wallets it sends from
//  2. one address lock per wallet, so that a wallet has a single submission
//     in flight at a time
//  3. the resubmission and finalization of every submission
//  4. the journal of every broadcast attempt
//  5. idempotency keys for preventing duplicate submissions
//  6. default configuration that TxRequest inherits
type Submitter struct {
	defaultsMu sync.RWMutex
	defaults   Defaults

	client chain.Client
	locker addresslock.Locker
	waiter *finalization.Waiter

	// signers keyed by address
	signers sync.Map // map[common.Address]chain.Signer

	journal          journal.Journal
	idempotencyStore idempotency.Store
	nonces           *nonce.Tracker
	metrics          metrics.Metricer

	chainIDMu sync.Mutex
	chainID   *big.Int
}

// Option is a function that configures a Submitter
type Option func(*Submitter)

// WithLocker sets the address lock backend. Defaults to in-memory locks.
func WithLocker(locker addresslock.Locker) Option {
	return func(s *Submitter) {
		s.locker = locker
	}
}

// WithSigner registers the signer of one wallet
func WithSigner(signer chain.Signer) Option {
	return func(s *Submitter) {
		s.AddSigner(signer)
	}
}

// WithJournal sets the attempt journal. Defaults to an in-memory journal.
func WithJournal(j journal.Journal) Option {
	return func(s *Submitter) {
		s.journal = j
	}
}

// WithIdempotencyStore sets a custom idempotency store
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(s *Submitter) {
		s.idempotencyStore = store
	}
}

// WithDefaultIdempotencyStore sets up an in-memory idempotency store with the given TTL
func WithDefaultIdempotencyStore(ttl time.Duration) Option {
	return func(s *Submitter) {
		s.idempotencyStore = idempotency.NewInMemoryStore(ttl)
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.Metricer) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// WithReceiptPollInterval sets how often receipts and confirmations are polled
func WithReceiptPollInterval(interval time.Duration) Option {
	return func(s *Submitter) {
		s.waiter.ReceiptPollInterval = interval
	}
}

// WithDefaultPlan sets the default resubmission plan
func WithDefaultPlan(plan Plan) Option {
	return func(s *Submitter) {
		s.defaults.Plan = plan
	}
}

// WithDefaultPolicy sets the default finalization policy
func WithDefaultPolicy(policy finalization.Policy) Option {
	return func(s *Submitter) {
		s.defaults.Policy = policy
	}
}

// WithDefaultTxType sets the default transaction type
func WithDefaultTxType(txType uint8) Option {
	return func(s *Submitter) {
		s.defaults.TxType = txType
	}
}

// WithDefaultExtraGasLimit sets the default extra gas limit added to estimates
func WithDefaultExtraGasLimit(extraGasLimit uint64) Option {
	return func(s *Submitter) {
		s.defaults.ExtraGasLimit = extraGasLimit
	}
}

// WithDefaultGasBufferPercent sets the default share added to estimated gas limits
func WithDefaultGasBufferPercent(percent float64) Option {
	return func(s *Submitter) {
		s.defaults.GasBufferPercent = percent
	}
}

// WithReplacedGrace sets how long receipt waits survive a replaced attempt
func WithReplacedGrace(d time.Duration) Option {
	return func(s *Submitter) {
		s.defaults.ReplacedGrace = d
	}
}

// WithNonceSyncTimeout bounds re-reading a stale on-chain nonce
func WithNonceSyncTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		s.defaults.NonceSyncTimeout = d
	}
}

// WithDefaults sets all default configuration at once
func WithDefaults(defaults Defaults) Option {
	return func(s *Submitter) {
		s.defaults = defaults
	}
}

// New creates a Submitter sending through client.
func New(client chain.Client, opts ...Option) (*Submitter, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	s := &Submitter{
		defaults: defaultDefaults(),
		client:   client,
		waiter:   finalization.NewWaiter(client),
		nonces:   nonce.NewTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = addresslock.NewMemoryLocks(DefaultLockWaitTimeout)
	}
	if s.journal == nil {
		s.journal = journal.NewMemoryJournal()
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopMetrics{}
	}
	s.waiter.Metrics = s.metrics
	return s, nil
}

// Defaults returns the current default configuration
func (s *Submitter) Defaults() Defaults {
	s.defaultsMu.RLock()
	defer s.defaultsMu.RUnlock()
	return s.defaults
}

// SetDefaults updates the default configuration
func (s *Submitter) SetDefaults(defaults Defaults) {
	s.defaultsMu.Lock()
	defer s.defaultsMu.Unlock()
	s.defaults = defaults
}

// AddSigner registers the signer for its address, replacing any previous one.
func (s *Submitter) AddSigner(signer chain.Signer) {
	s.signers.Store(signer.Address(), signer)
}

// AddAccount registers a jarvis account as signer.
func (s *Submitter) AddAccount(ctx context.Context, acc *account.Account) error {
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return err
	}
	s.AddSigner(chain.NewJarvisSigner(acc, chainID))
	return nil
}

func (s *Submitter) signer(wallet common.Address) (chain.Signer, error) {
	v, ok := s.signers.Load(wallet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, wallet.Hex())
	}
	return v.(chain.Signer), nil
}

// ChainID returns the chain id of the client, asked once.
func (s *Submitter) ChainID(ctx context.Context) (*big.Int, error) {
	s.chainIDMu.Lock()
	defer s.chainIDMu.Unlock()
	if s.chainID == nil {
		id, err := s.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("couldn't get chain id: %w", err)
		}
		s.chainID = id
	}
	return new(big.Int).Set(s.chainID), nil
}

func (s *Submitter) Journal() journal.Journal {
	return s.journal
}

func (s *Submitter) IdempotencyStore() idempotency.Store {
	return s.idempotencyStore
}

// Submit sends req and blocks until one of its attempts is final according
// to the request's policy, or every attempt failed.
func (s *Submitter) Submit(ctx context.Context, req *TxRequest) (*types.Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.idempotencyKey != "" && s.idempotencyStore != nil {
		return s.submitIdempotent(ctx, req)
	}
	receipt, _, err := s.submit(ctx, req)
	return receipt, err
}

// submitIdempotent handles idempotent submission
func (s *Submitter) submitIdempotent(ctx context.Context, req *TxRequest) (*types.Receipt, error) {
	store := s.idempotencyStore

	record, err := store.Create(req.idempotencyKey)
	if errors.Is(err, idempotency.ErrDuplicateKey) {
		if record != nil && record.Status == idempotency.StatusConfirmed {
			return record.Receipt, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	receipt, sub, subErr := s.submit(ctx, req)

	record.Receipt = receipt
	record.Error = subErr
	if sub != nil {
		record.Wallet = sub.from
		record.Nonce = sub.nonce
		record.TxHashes = sub.hashes()
	}
	switch {
	case subErr == nil:
		record.Status = idempotency.StatusConfirmed
	case errors.Is(subErr, finalization.ErrFinalizationTimeout) && len(record.TxHashes) > 0:
		// broadcast but undecided, a retry could double spend
		record.Status = idempotency.StatusSubmitted
	default:
		record.Status = idempotency.StatusFailed
	}
	// best effort, the submission result matters more
	if err := store.Update(record); err != nil {
		logger.WithFields(logger.Fields{
			"idempotency_key": req.idempotencyKey,
			"error":           err,
		}).Warn("couldn't update idempotency record")
	}
	return receipt, subErr
}
