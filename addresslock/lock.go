// Package addresslock serializes transaction issuance per source address.
//
// Two backends are provided. MemoryLocks keeps the set of locked addresses in
// process memory and is only safe inside a single process. FileLocks
// represents each lock as an exclusively created marker file, which makes it
// usable by several processes sharing a directory.
package addresslock

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultPollInterval is how often a busy address is retried.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSettle is how long FileLocks sleeps after deleting an expired
	// marker before it tries to create its own.
	DefaultSettle = 2 * time.Second
)

// Lock is the handle returned by a successful acquisition. ID is unique per
// holder and must be passed back to Release unchanged.
type Lock struct {
	Address common.Address
	ID      string
}

// Locker is implemented by every lock backend.
type Locker interface {
	// Lock blocks until addr is free, the wait timeout elapses (ErrLockTimeout)
	// or ctx is done.
	Lock(ctx context.Context, addr common.Address) (Lock, error)
	// Release gives up a lock obtained from Lock.
	Release(lock Lock) error
}

var lockCounter atomic.Uint64

// ownerPrefix is the part of every lock id identifying this process.
func ownerPrefix() string {
	return fmt.Sprintf("%d-", os.Getpid())
}

// nextLockID returns a new process-unique owner token "<pid>-<counter>".
func nextLockID() string {
	return fmt.Sprintf("%s%d", ownerPrefix(), lockCounter.Add(1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func timeoutError(addr common.Address, waited time.Duration) error {
	return fmt.Errorf("%w: address %s, waited %s", ErrLockTimeout, addr.Hex(), waited)
}
