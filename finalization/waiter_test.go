package finalization

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/submitter/canceltoken"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/metrics"
	"github.com/tranvictor/submitter/testutil"
)

type countingMetrics struct {
	metrics.NoopMetrics
	reorgs   atomic.Int32
	timeouts atomic.Int32
}

func (m *countingMetrics) RecordReorg()               { m.reorgs.Add(1) }
func (m *countingMetrics) RecordFinalizationTimeout() { m.timeouts.Add(1) }

func setup(t *testing.T) (*testutil.FakeChain, *Waiter, *chain.Pending, *countingMetrics) {
	t.Helper()
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	tx := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 0, testutil.TwoGwei)
	require.NoError(t, fc.SendTransaction(context.Background(), tx))
	m := &countingMetrics{}
	w := NewWaiter(fc)
	w.ReceiptPollInterval = 5 * time.Millisecond
	w.Metrics = m
	return fc, w, chain.NewPending(tx, testutil.TestPrivateKey1Address), m
}

func TestWait_Receipt(t *testing.T) {
	fc, w, pending, _ := setup(t)
	time.AfterFunc(20*time.Millisecond, func() { fc.Mine() })

	receipt, err := w.Wait(context.Background(), pending, ForReceipt(), canceltoken.New("test"))
	require.NoError(t, err)
	assert.Equal(t, pending.Hash(), receipt.TxHash)
}

func TestWait_Confirmations(t *testing.T) {
	fc, w, pending, _ := setup(t)
	stop := fc.MineEvery(10 * time.Millisecond)
	defer stop()

	receipt, err := w.Wait(context.Background(), pending, ForConfirmations(3), canceltoken.New("test"))
	require.NoError(t, err)
	head, err := fc.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, head-receipt.BlockNumber.Uint64()+1, uint64(3))
}

func TestWait_ConfirmationsTimeoutWithoutBlocks(t *testing.T) {
	fc, w, pending, m := setup(t)
	fc.Mine()

	const timeout = 150 * time.Millisecond
	start := time.Now()
	_, err := w.Wait(context.Background(), pending, ForConfirmations(3).WithTimeout(timeout), canceltoken.New("test"))

	assert.ErrorIs(t, err, ErrFinalizationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.Equal(t, int32(1), m.timeouts.Load())
}

func TestWait_NonceIncrease(t *testing.T) {
	fc, w, pending, _ := setup(t)
	time.AfterFunc(20*time.Millisecond, func() { fc.Mine() })

	receipt, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Millisecond, nil), canceltoken.New("test"))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, pending.Hash(), receipt.TxHash)
}

func TestWait_NonceIncreaseByOtherTransaction(t *testing.T) {
	fc, w, pending, _ := setup(t)
	replacement := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 0, testutil.TwentyGwei)
	require.NoError(t, fc.SendTransaction(context.Background(), replacement))
	fc.Mine()

	receipt, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Millisecond, nil), canceltoken.New("test"))
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestWait_NonceIncreaseExtraBlocks(t *testing.T) {
	fc, w, pending, _ := setup(t)
	fc.Mine()
	minedAt, _ := fc.BlockNumber(context.Background())
	stop := fc.MineEvery(10 * time.Millisecond)
	defer stop()

	_, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Millisecond, &Extra{Blocks: 3}), canceltoken.New("test"))
	require.NoError(t, err)
	head, _ := fc.BlockNumber(context.Background())
	assert.GreaterOrEqual(t, head, minedAt+3)
}

func TestWait_NonceIncreaseExtraTime(t *testing.T) {
	fc, w, pending, _ := setup(t)
	fc.Mine()

	start := time.Now()
	_, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Millisecond, &Extra{Time: 50 * time.Millisecond}), canceltoken.New("test"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_ReorgRestartsExtraWait(t *testing.T) {
	fc, w, pending, m := setup(t)
	snap := fc.Snapshot()
	fc.Mine()

	const extra = 200 * time.Millisecond
	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Millisecond, &Extra{Time: extra}), canceltoken.New("test"))
		done <- err
	}()

	// the waiter is now in its extra wait; un-mine the transaction
	time.Sleep(100 * time.Millisecond)
	fc.Revert(snap)

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("wait finished before the transaction was mined again: %v", err)
	default:
	}
	remined := time.Now()
	fc.Mine()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(remined), extra)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not finish")
	}
	assert.Equal(t, int32(1), m.reorgs.Load())
}

func TestWait_Cancelled(t *testing.T) {
	_, w, pending, _ := setup(t)
	token := canceltoken.New("test")
	time.AfterFunc(20*time.Millisecond, token.Cancel)

	start := time.Now()
	_, err := w.Wait(context.Background(), pending, ForNonceIncrease(5*time.Second, nil), token)
	assert.ErrorIs(t, err, canceltoken.ErrCancelled)
	assert.Less(t, time.Since(start), time.Second)

	_, err = w.Wait(context.Background(), pending, ForReceipt(), token)
	assert.ErrorIs(t, err, canceltoken.ErrCancelled)
}

func TestWait_CancelledReceiptWatch(t *testing.T) {
	_, w, pending, _ := setup(t)
	token := canceltoken.New("test")
	time.AfterFunc(20*time.Millisecond, token.Cancel)

	_, err := w.Wait(context.Background(), pending, ForConfirmations(2).WithTimeout(time.Minute), token)
	assert.ErrorIs(t, err, canceltoken.ErrCancelled)
}

func TestWait_InvalidPolicy(t *testing.T) {
	_, w, pending, _ := setup(t)
	_, err := w.Wait(context.Background(), pending, ForConfirmations(0), canceltoken.New("test"))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}
