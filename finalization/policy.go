package finalization

import (
	"fmt"
	"time"
)

// What selects the finalization guarantee.
type What int

const (
	// Receipt resolves as soon as the transaction has a receipt.
	Receipt What = iota
	// Confirmations resolves once the receipt has N confirmations.
	Confirmations
	// NonceIncrease resolves once the sender's mined nonce moved past the
	// transaction's nonce, optionally followed by an extra wait.
	NonceIncrease
)

func (w What) String() string {
	switch w {
	case Receipt:
		return "receipt"
	case Confirmations:
		return "confirmations"
	case NonceIncrease:
		return "nonceIncrease"
	default:
		return fmt.Sprintf("What(%d)", int(w))
	}
}

// ParseWhat is the inverse of String.
func ParseWhat(s string) (What, error) {
	switch s {
	case "receipt":
		return Receipt, nil
	case "confirmations":
		return Confirmations, nil
	case "nonceIncrease", "nonce_increase":
		return NonceIncrease, nil
	}
	return 0, fmt.Errorf("%w: unknown wait kind %q", ErrInvalidPolicy, s)
}

// Extra is the grace period after a nonce increase. The wait ends when either
// criterion is met; a zero field disables that criterion.
type Extra struct {
	Blocks uint64
	Time   time.Duration
}

func (e *Extra) enabled() bool {
	return e != nil && (e.Blocks > 0 || e.Time > 0)
}

// Policy describes when a transaction counts as final.
type Policy struct {
	What What
	// Confirmations required by the Confirmations policy.
	Confirmations uint64
	// PollInterval of the nonce in the NonceIncrease policy.
	PollInterval time.Duration
	// Extra is optional and only used by NonceIncrease.
	Extra *Extra
	// Timeout of the whole wait, zero means none.
	Timeout time.Duration
}

// ForReceipt resolves on the first receipt.
func ForReceipt() Policy {
	return Policy{What: Receipt}
}

// ForConfirmations resolves once the receipt's block is n blocks deep.
func ForConfirmations(n uint64) Policy {
	return Policy{What: Confirmations, Confirmations: n}
}

// ForNonceIncrease resolves once the sender's mined nonce moves past the
// transaction, polled every poll, and extra is over.
func ForNonceIncrease(poll time.Duration, extra *Extra) Policy {
	return Policy{What: NonceIncrease, PollInterval: poll, Extra: extra}
}

// WithTimeout returns a copy of p with the overall timeout set.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

// Validate returns ErrInvalidPolicy when p cannot be waited for.
func (p Policy) Validate() error {
	switch p.What {
	case Receipt:
	case Confirmations:
		if p.Confirmations == 0 {
			return fmt.Errorf("%w: confirmations must be at least 1", ErrInvalidPolicy)
		}
	case NonceIncrease:
		if p.PollInterval <= 0 {
			return fmt.Errorf("%w: nonce poll interval must be positive", ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, p.What)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) String() string {
	switch p.What {
	case Confirmations:
		return fmt.Sprintf("confirmations(%d)", p.Confirmations)
	case NonceIncrease:
		if p.Extra.enabled() {
			return fmt.Sprintf("nonceIncrease(%s, extra %d blocks / %s)", p.PollInterval, p.Extra.Blocks, p.Extra.Time)
		}
		return fmt.Sprintf("nonceIncrease(%s)", p.PollInterval)
	default:
		return p.What.String()
	}
}
