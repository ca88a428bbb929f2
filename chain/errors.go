package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
)

var (
	// ErrCircuitOpen is returned by Guard while the endpoint is considered down.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open, rpc endpoint unavailable")

	// ErrNotBroadcasted is returned when no node accepted the transaction.
	ErrNotBroadcasted = fmt.Errorf("transaction was not accepted by any node")
)

// replacementErrs mean the nonce was already taken by one of our own
// attempts, so a competing attempt may still succeed.
var replacementErrs = []error{
	core.ErrNonceTooLow,
	txpool.ErrReplaceUnderpriced,
	txpool.ErrAlreadyKnown,
}

var transientErrs = []error{
	ethereum.NotFound,
	errors.New("transaction indexing in progress"),
}

func matchesAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
		// nodes return plain strings over rpc
		if strings.Contains(err.Error(), target.Error()) {
			return true
		}
	}
	return false
}

// IsReplacement reports whether err says that the nonce was consumed or is
// being replaced, e.g. "nonce too low" or "replacement transaction
// underpriced".
func IsReplacement(err error) bool {
	return matchesAny(err, replacementErrs)
}

// IsExecutionReverted reports whether the node evaluated the call and it
// reverted.
func IsExecutionReverted(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}

// IsNotFound reports whether err means the receipt is not available yet.
func IsNotFound(err error) bool {
	return matchesAny(err, transientErrs)
}
