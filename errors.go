package submitter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrFromAddressZero    = fmt.Errorf("from address cannot be zero")
	ErrClientNil          = fmt.Errorf("chain client cannot be nil")
	ErrNoSigner           = fmt.Errorf("no signer registered for wallet")
	ErrSignerMismatch     = fmt.Errorf("transaction signed by a different wallet")
	ErrEstimateGasFailed  = fmt.Errorf("estimate gas failed")
	ErrAcquireNonceFailed = fmt.Errorf("acquire nonce failed")
	ErrGetGasPriceFailed  = fmt.Errorf("get gas price failed")
	ErrUnsupportedTxType  = fmt.Errorf("unsupported transaction type")
	ErrInvalidPlan        = fmt.Errorf("invalid resubmission plan")
	ErrBeforeSendHook     = fmt.Errorf("before send hook rejected the transaction")
	ErrTxReverted         = fmt.Errorf("transaction reverted")

	// ErrNonceNotAdvanced is returned when the node keeps reporting a nonce
	// this process already saw finalized, e.g. a lagging node behind a load
	// balancer.
	ErrNonceNotAdvanced = fmt.Errorf("on-chain nonce did not advance past the last finalized nonce")

	// ErrNonceConsumed means the nonce of a submission was used by a
	// transaction that is none of its attempts.
	ErrNonceConsumed = fmt.Errorf("nonce consumed by a foreign transaction")

	// ErrAllAttemptsCancelled means every attempt was cancelled without any
	// of them producing a result. It should never happen.
	ErrAllAttemptsCancelled = fmt.Errorf("all resubmits canceled")
)

// SubmissionRejectedError is returned when the chain rejected or reverted
// the transaction. Cause is the node's error (or ErrTxReverted). TxHash and
// Receipt are set when the transaction made it on chain.
type SubmissionRejectedError struct {
	Cause   error
	TxHash  common.Hash
	Receipt *types.Receipt
	// Others holds the errors of the remaining attempts, for diagnostics.
	Others *multierror.Error
}

func (e *SubmissionRejectedError) Error() string {
	msg := "submission rejected"
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SubmissionRejectedError) Unwrap() error {
	return e.Cause
}

func rejected(cause error, tx *types.Transaction, receipt *types.Receipt) *SubmissionRejectedError {
	e := &SubmissionRejectedError{Cause: cause, Receipt: receipt}
	if tx != nil {
		e.TxHash = tx.Hash()
	}
	return e
}
