package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeChain is an in-memory chain implementing chain.Client. Blocks are only
// produced by Mine, MineEvery or auto mining, so tests control exactly when a
// transaction lands. Replacement follows geth's rules: same nonce needs a 10%
// higher gas price.
type FakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	signer   types.Signer
	gasPrice *big.Int
	tipCap   *big.Int
	head     uint64
	autoMine bool

	nonces   map[common.Address]uint64
	pool     map[common.Address]map[uint64]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction

	snapshots []fakeSnapshot

	// SendHook, when set, runs before a transaction is accepted and may
	// reject it. It is called with the chain locked.
	SendHook func(tx *types.Transaction) error
	// RevertHook marks mined transactions as reverted.
	RevertHook func(tx *types.Transaction) bool
	// GasEstimate is returned by EstimateGas.
	GasEstimate uint64
	// EstimateErr, when set, is returned by EstimateGas.
	EstimateErr error

	nonceReads int
}

type fakeSnapshot struct {
	head     uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
}

// NewFakeChain creates a chain at block 1 with a 1 gwei gas price.
func NewFakeChain(chainID *big.Int) *FakeChain {
	return &FakeChain{
		chainID:     chainID,
		signer:      types.LatestSignerForChainID(chainID),
		gasPrice:    big.NewInt(1_000_000_000),
		tipCap:      big.NewInt(100_000_000),
		head:        1,
		nonces:      make(map[common.Address]uint64),
		pool:        make(map[common.Address]map[uint64]*types.Transaction),
		receipts:    make(map[common.Hash]*types.Receipt),
		GasEstimate: 21000,
	}
}

func (c *FakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// SetGasPrice changes what SuggestGasPrice returns.
func (c *FakeChain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(price)
}

// SetAutoMine makes every accepted transaction mine in its own block.
func (c *FakeChain) SetAutoMine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = on
}

// SetNonce overrides the mined nonce of addr, as if it transacted elsewhere.
func (c *FakeChain) SetNonce(addr common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = nonce
}

func (c *FakeChain) NonceAt(_ context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonceReads++
	if blockNumber != nil {
		return 0, fmt.Errorf("fake chain only serves the latest block")
	}
	return c.nonces[account], nil
}

// NonceReads returns how many times NonceAt was called.
func (c *FakeChain) NonceReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonceReads
}

func (c *FakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *FakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.tipCap), nil
}

func (c *FakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *FakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	cp := *r
	return &cp, nil
}

func (c *FakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return c.GasEstimate, nil
}

func (c *FakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendHook != nil {
		if err := c.SendHook(tx); err != nil {
			return err
		}
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() < c.nonces[from] {
		return fmt.Errorf("%w: address %s, tx: %d state: %d", core.ErrNonceTooLow, from.Hex(), tx.Nonce(), c.nonces[from])
	}
	if c.pool[from] == nil {
		c.pool[from] = make(map[uint64]*types.Transaction)
	}
	if old, ok := c.pool[from][tx.Nonce()]; ok {
		if old.Hash() == tx.Hash() {
			return txpool.ErrAlreadyKnown
		}
		// geth's default price bump is 10%
		threshold := new(big.Int).Mul(old.GasPrice(), big.NewInt(110))
		threshold.Div(threshold, big.NewInt(100))
		if tx.GasPrice().Cmp(threshold) < 0 {
			return txpool.ErrReplaceUnderpriced
		}
	}
	c.pool[from][tx.Nonce()] = tx
	c.sent = append(c.sent, tx)
	if c.autoMine {
		c.mineLocked()
	}
	return nil
}

// Sent returns every accepted transaction in order.
func (c *FakeChain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Pending returns the pool transaction of addr at nonce, if any.
func (c *FakeChain) Pending(addr common.Address, nonce uint64) *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool[addr][nonce]
}

// Drop removes a transaction from the pool without mining it.
func (c *FakeChain) Drop(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, byNonce := range c.pool {
		for nonce, tx := range byNonce {
			if tx.Hash() == hash {
				delete(byNonce, nonce)
			}
		}
	}
}

// Mine produces one block containing every executable pool transaction.
func (c *FakeChain) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked()
}

// MineBlocks produces n blocks.
func (c *FakeChain) MineBlocks(n int) {
	for i := 0; i < n; i++ {
		c.Mine()
	}
}

func (c *FakeChain) mineLocked() uint64 {
	c.head++
	var index uint
	for from, byNonce := range c.pool {
		for {
			nonce := c.nonces[from]
			tx, ok := byNonce[nonce]
			if !ok {
				break
			}
			delete(byNonce, nonce)
			c.nonces[from] = nonce + 1
			status := types.ReceiptStatusSuccessful
			if c.RevertHook != nil && c.RevertHook(tx) {
				status = types.ReceiptStatusFailed
			}
			c.receipts[tx.Hash()] = &types.Receipt{
				Type:              tx.Type(),
				Status:            status,
				TxHash:            tx.Hash(),
				BlockNumber:       new(big.Int).SetUint64(c.head),
				BlockHash:         common.BigToHash(new(big.Int).SetUint64(c.head)),
				TransactionIndex:  index,
				GasUsed:           tx.Gas(),
				CumulativeGasUsed: tx.Gas(),
				EffectiveGasPrice: tx.GasPrice(),
			}
			index++
		}
	}
	return c.head
}

// MineEvery mines a block every interval until the returned stop function is
// called.
func (c *FakeChain) MineEvery(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Mine()
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Snapshot records the current chain state and returns its id.
func (c *FakeChain) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := fakeSnapshot{
		head:     c.head,
		nonces:   make(map[common.Address]uint64, len(c.nonces)),
		receipts: make(map[common.Hash]*types.Receipt, len(c.receipts)),
	}
	for k, v := range c.nonces {
		snap.nonces[k] = v
	}
	for k, v := range c.receipts {
		snap.receipts[k] = v
	}
	c.snapshots = append(c.snapshots, snap)
	return len(c.snapshots) - 1
}

// Revert rolls the chain back to snapshot id, simulating a reorg. Transactions
// mined after the snapshot return to the pool and can be mined again.
func (c *FakeChain) Revert(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshots[id]
	c.snapshots = c.snapshots[:id]

	for hash := range c.receipts {
		if _, kept := snap.receipts[hash]; kept {
			continue
		}
		for _, tx := range c.sent {
			if tx.Hash() != hash {
				continue
			}
			from, err := types.Sender(c.signer, tx)
			if err != nil {
				continue
			}
			if c.pool[from] == nil {
				c.pool[from] = make(map[uint64]*types.Transaction)
			}
			c.pool[from][tx.Nonce()] = tx
		}
	}
	c.head = snap.head
	c.nonces = snap.nonces
	c.receipts = snap.receipts
}
