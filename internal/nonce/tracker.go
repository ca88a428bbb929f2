// Package nonce remembers, per wallet and chain, the highest nonce this
// process has seen finalized, so that a lagging node cannot make the
// submitter reuse it.
// This is an internal package and should not be imported directly by external code.
package nonce

import (
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Tracker is safe for concurrent use.
type Tracker struct {
	// finalized maps wallet address -> (chainID -> last finalized nonce)
	finalized sync.Map // map[common.Address]map[uint64]uint64

	walletLocks sync.Map // map[common.Address]*sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) getWalletLock(wallet common.Address) *sync.RWMutex {
	lock, _ := t.walletLocks.LoadOrStore(wallet, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

// getOrCreateNonceMap MUST be called with the wallet lock held.
func (t *Tracker) getOrCreateNonceMap(wallet common.Address) map[uint64]uint64 {
	raw, _ := t.finalized.LoadOrStore(wallet, make(map[uint64]uint64))
	return raw.(map[uint64]uint64)
}

// RecordFinalized remembers that nonce of wallet was finalized. Lower values
// than the one already stored are ignored.
func (t *Tracker) RecordFinalized(wallet common.Address, chainID uint64, nonce uint64) {
	lock := t.getWalletLock(wallet)
	lock.Lock()
	defer lock.Unlock()

	nonces := t.getOrCreateNonceMap(wallet)
	old, ok := nonces[chainID]
	if ok && old >= nonce {
		logger.WithFields(logger.Fields{
			"wallet":    wallet.Hex(),
			"chain_id":  chainID,
			"new_nonce": nonce,
			"old_nonce": old,
		}).Debug("recordFinalized skipped: nonce not higher than existing")
		return
	}
	nonces[chainID] = nonce
	logger.WithFields(logger.Fields{
		"wallet":   wallet.Hex(),
		"chain_id": chainID,
		"nonce":    nonce,
	}).Debug("recordFinalized: updated last finalized nonce")
}

// LastFinalized returns the highest finalized nonce recorded for wallet.
func (t *Tracker) LastFinalized(wallet common.Address, chainID uint64) (uint64, bool) {
	lock := t.getWalletLock(wallet)
	lock.RLock()
	defer lock.RUnlock()

	raw, ok := t.finalized.Load(wallet)
	if !ok {
		return 0, false
	}
	nonce, ok := raw.(map[uint64]uint64)[chainID]
	return nonce, ok
}

// Check verifies that remote, a transaction count reported by a node, is
// past every nonce this process saw finalized. It returns ErrNonceBehind
// otherwise.
func (t *Tracker) Check(wallet common.Address, chainID uint64, remote uint64) error {
	last, ok := t.LastFinalized(wallet, chainID)
	if !ok || remote > last {
		return nil
	}
	return fmt.Errorf("%w: wallet %s, node nonce %d, last finalized %d", ErrNonceBehind, wallet.Hex(), remote, last)
}

// Forget drops what is known about wallet on chainID, e.g. after the
// account was reset on a dev chain.
func (t *Tracker) Forget(wallet common.Address, chainID uint64) {
	lock := t.getWalletLock(wallet)
	lock.Lock()
	defer lock.Unlock()

	raw, ok := t.finalized.Load(wallet)
	if !ok {
		return
	}
	delete(raw.(map[uint64]uint64), chainID)
}
