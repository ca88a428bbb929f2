package addresslock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestMemoryLocks_LockRelease(t *testing.T) {
	locks := NewMemoryLocks(time.Second)

	lock, err := locks.Lock(context.Background(), addrA)
	require.NoError(t, err)
	assert.Equal(t, addrA, lock.Address)
	assert.NotEmpty(t, lock.ID)
	assert.True(t, locks.Locked(addrA))
	assert.False(t, locks.Locked(addrB))

	require.NoError(t, locks.Release(lock))
	assert.False(t, locks.Locked(addrA))
	assert.ErrorIs(t, locks.Release(lock), ErrLockLost)
}

func TestMemoryLocks_Timeout(t *testing.T) {
	locks := NewMemoryLocks(100 * time.Millisecond)
	locks.PollInterval = 10 * time.Millisecond

	_, err := locks.Lock(context.Background(), addrA)
	require.NoError(t, err)

	start := time.Now()
	_, err = locks.Lock(context.Background(), addrA)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// other addresses are independent
	_, err = locks.Lock(context.Background(), addrB)
	assert.NoError(t, err)
}

func TestMemoryLocks_WaitsForRelease(t *testing.T) {
	locks := NewMemoryLocks(time.Second)
	locks.PollInterval = 5 * time.Millisecond

	first, err := locks.Lock(context.Background(), addrA)
	require.NoError(t, err)
	time.AfterFunc(30*time.Millisecond, func() { _ = locks.Release(first) })

	second, err := locks.Lock(context.Background(), addrA)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryLocks_ContextCancelled(t *testing.T) {
	locks := NewMemoryLocks(time.Minute)
	locks.PollInterval = 5 * time.Millisecond
	_, err := locks.Lock(context.Background(), addrA)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, addrA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLocks_IndependentRegistries(t *testing.T) {
	one := NewMemoryLocks(50 * time.Millisecond)
	two := NewMemoryLocks(50 * time.Millisecond)

	_, err := one.Lock(context.Background(), addrA)
	require.NoError(t, err)
	_, err = two.Lock(context.Background(), addrA)
	assert.NoError(t, err)
}

func TestMemoryLocks_MutualExclusion(t *testing.T) {
	locks := NewMemoryLocks(5 * time.Second)
	locks.PollInterval = time.Millisecond

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := locks.Lock(context.Background(), addrA)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, locks.Release(lock))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
}
