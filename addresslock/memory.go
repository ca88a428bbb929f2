package addresslock

import (
	"context"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryLocks is an in-process Locker. It is not safe across processes; each
// instance is an independent registry, so tests may run many in parallel.
type MemoryLocks struct {
	WaitTimeout  time.Duration
	PollInterval time.Duration

	mu     sync.Mutex
	locked map[common.Address]string
}

// NewMemoryLocks creates an empty registry.
func NewMemoryLocks(waitTimeout time.Duration) *MemoryLocks {
	return &MemoryLocks{
		WaitTimeout:  waitTimeout,
		PollInterval: DefaultPollInterval,
		locked:       make(map[common.Address]string),
	}
}

func (m *MemoryLocks) tryLock(addr common.Address) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked == nil {
		m.locked = make(map[common.Address]string)
	}
	if _, busy := m.locked[addr]; busy {
		return "", false
	}
	id := nextLockID()
	m.locked[addr] = id
	return id, true
}

// Lock polls until addr is free or WaitTimeout elapses.
func (m *MemoryLocks) Lock(ctx context.Context, addr common.Address) (Lock, error) {
	poll := m.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	start := time.Now()
	for time.Since(start) < m.WaitTimeout {
		if id, ok := m.tryLock(addr); ok {
			logger.WithFields(logger.Fields{
				"wallet":  addr.Hex(),
				"lock_id": id,
				"waited":  time.Since(start).String(),
			}).Debug("memory lock acquired")
			return Lock{Address: addr, ID: id}, nil
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return Lock{}, err
		}
	}
	return Lock{}, timeoutError(addr, time.Since(start))
}

// Release frees the address if the lock is still the current holder.
func (m *MemoryLocks) Release(lock Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[lock.Address] != lock.ID {
		return ErrLockLost
	}
	delete(m.locked, lock.Address)
	return nil
}

// Locked reports whether addr is currently held.
func (m *MemoryLocks) Locked(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locked[addr]
	return ok
}
