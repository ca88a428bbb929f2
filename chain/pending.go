package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Pending is a broadcast transaction whose outcome is not known yet.
type Pending struct {
	Tx     *types.Transaction
	From   common.Address
	Nonce  uint64
	SentAt time.Time
}

// NewPending wraps a transaction that was just sent.
func NewPending(tx *types.Transaction, from common.Address) *Pending {
	return &Pending{
		Tx:     tx,
		From:   from,
		Nonce:  tx.Nonce(),
		SentAt: time.Now(),
	}
}

// Hash of the underlying transaction.
func (p *Pending) Hash() common.Hash {
	return p.Tx.Hash()
}

// Event is one notification about a watched transaction. Exactly one of the
// cases applies: Err is set, or Receipt is set and Confirmations holds the
// current confirmation count, or Receipt is nil which means a receipt seen
// earlier disappeared.
type Event struct {
	Receipt       *types.Receipt
	Confirmations uint64
	Err           error
}

// Watch polls the receipt of hash every interval and reports the receipt and
// its confirmation count whenever either changes. A confirmation count of 1
// means the receipt's block is the head. The channel is closed when ctx is
// done.
func Watch(ctx context.Context, r Reader, hash common.Hash, interval time.Duration) <-chan Event {
	events := make(chan Event, 1)
	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			lastBlock uint64
			lastConfs uint64
			seen      bool
		)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			receipt, err := r.TransactionReceipt(ctx, hash)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil && !IsNotFound(err):
				if !emit(Event{Err: err}) {
					return
				}
			case err != nil || receipt == nil:
				if seen {
					seen = false
					lastConfs = 0
					if !emit(Event{}) {
						return
					}
				}
			default:
				head, headErr := r.BlockNumber(ctx)
				if headErr != nil {
					if ctx.Err() != nil || !emit(Event{Err: headErr}) {
						return
					}
					break
				}
				block := receipt.BlockNumber.Uint64()
				var confs uint64
				if head >= block {
					confs = head - block + 1
				}
				if !seen || block != lastBlock || confs != lastConfs {
					seen = true
					lastBlock = block
					lastConfs = confs
					if !emit(Event{Receipt: receipt, Confirmations: confs}) {
						return
					}
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}
