package submitter

import (
	"context"
	"fmt"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/journal"
)

// RecoveryResult contains the results of a recovery operation
type RecoveryResult struct {
	// Checked is the number of unfinished attempts found in the journal.
	Checked int
	// Mined attempts had a successful receipt.
	Mined int
	// Reverted attempts were mined but reverted.
	Reverted int
	// Abandoned attempts are not mined while their nonce was consumed by
	// another transaction.
	Abandoned int
	// StillPending attempts may still be mined.
	StillPending int
	// Errors contains any non-fatal errors encountered during recovery
	Errors []error
}

// RecoveryOptions configures the recovery process
type RecoveryOptions struct {
	// OnAttemptMined is called for each attempt found mined, reverted or not.
	OnAttemptMined func(a *journal.Attempt, receipt *types.Receipt)
	// OnAttemptAbandoned is called for each attempt whose nonce was taken by
	// another transaction.
	OnAttemptAbandoned func(a *journal.Attempt)
}

// Recover looks at every attempt the journal still marks as sent or mined,
// which happens when the process stopped in the middle of a submission, and
// settles the ones whose outcome is known now. Submitting for an affected
// wallet is safe without calling Recover; it only brings the journal and the
// finalized nonces up to date.
func (s *Submitter) Recover(ctx context.Context, opts RecoveryOptions) (*RecoveryResult, error) {
	attempts, err := s.journal.ListUnfinished()
	if err != nil {
		return nil, fmt.Errorf("couldn't list unfinished attempts: %w", err)
	}
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	result := &RecoveryResult{Checked: len(attempts)}
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		receipt, err := s.client.TransactionReceipt(ctx, a.TxHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				a.Status = journal.StatusFinalized
				result.Mined++
			} else {
				a.Status = journal.StatusReverted
				result.Reverted++
			}
			s.nonces.RecordFinalized(a.Wallet, chainID.Uint64(), a.Nonce)
			if opts.OnAttemptMined != nil {
				opts.OnAttemptMined(a, receipt)
			}
		case chain.IsNotFound(err):
			mined, err := s.client.NonceAt(ctx, a.Wallet, nil)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("attempt %s/%d: %w", a.SubmissionID, a.Index, err))
				continue
			}
			if mined <= a.Nonce {
				result.StillPending++
				continue
			}
			a.Status = journal.StatusAbandoned
			result.Abandoned++
			if opts.OnAttemptAbandoned != nil {
				opts.OnAttemptAbandoned(a)
			}
		default:
			result.Errors = append(result.Errors, fmt.Errorf("attempt %s/%d: %w", a.SubmissionID, a.Index, err))
			continue
		}
		if err := s.journal.Put(a); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("attempt %s/%d: %w", a.SubmissionID, a.Index, err))
		}
	}

	logger.WithFields(logger.Fields{
		"checked":       result.Checked,
		"mined":         result.Mined,
		"reverted":      result.Reverted,
		"abandoned":     result.Abandoned,
		"still_pending": result.StillPending,
		"errors":        len(result.Errors),
	}).Info("recovery finished")
	return result, nil
}
