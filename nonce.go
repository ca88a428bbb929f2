package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tranvictor/submitter/canceltoken"
)

// acquireNonce determines the nonce every attempt of sub will use. It is read
// once, with the address lock held.
//
// A node answering with a transaction count this process already saw
// finalized is lagging behind; the read is repeated until it catches up or
// NonceSyncTimeout elapses.
func (s *Submitter) acquireNonce(ctx context.Context, sub *submission) (uint64, error) {
	if sub.req.nonce != nil {
		return *sub.req.nonce, nil
	}

	chainID := sub.chainID.Uint64()
	deadline := time.Now().Add(sub.defaults.NonceSyncTimeout)
	for {
		remote, err := s.client.NonceAt(ctx, sub.from, nil)
		if err != nil {
			return 0, errors.Join(ErrAcquireNonceFailed, fmt.Errorf("couldn't get nonce of the wallet: %w", err))
		}
		behind := s.nonces.Check(sub.from, chainID, remote)
		if behind == nil {
			return remote, nil
		}
		if time.Now().After(deadline) {
			return 0, errors.Join(ErrNonceNotAdvanced, behind)
		}
		logger.WithFields(logger.Fields{
			"wallet":       sub.from.Hex(),
			"remote_nonce": remote,
			"error":        behind,
		}).Debug("acquireNonce: node is behind, retrying")
		if err := canceltoken.Sleep(ctx, DefaultNonceSyncPoll, sub.sendToken); err != nil {
			return 0, err
		}
	}
}

// ForgetNonce drops the finalized nonce remembered for wallet, e.g. after a
// dev chain was reset.
func (s *Submitter) ForgetNonce(ctx context.Context, wallet common.Address) error {
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return err
	}
	s.nonces.Forget(wallet, chainID.Uint64())
	return nil
}
