package addresslock

import "fmt"

var (
	// ErrLockTimeout is returned when an address could not be locked within
	// the configured wait timeout. It is a normal, retryable condition.
	ErrLockTimeout = fmt.Errorf("timeout waiting to obtain address nonce lock")

	// ErrLockLost is returned by Release when the marker no longer belongs to
	// the caller, typically because it expired and was reclaimed.
	ErrLockLost = fmt.Errorf("address lock is no longer held by this owner")
)
