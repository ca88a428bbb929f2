package submitter

import "github.com/ethereum/go-ethereum/core/types"

// Hook is called before signing (with a nil error) and after broadcasting
// (with the broadcast error) of every attempt. A before hook returning an
// error aborts the attempt.
type Hook func(tx *types.Transaction, err error) error

// TxMinedHook is called with the receipt the submission resolved to, whether
// successful or reverted. Its error is returned to the caller.
type TxMinedHook func(tx *types.Transaction, receipt *types.Receipt) error
