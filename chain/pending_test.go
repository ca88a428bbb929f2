package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/testutil"
)

var _ chain.Client = (*testutil.FakeChain)(nil)

func nextEvent(t *testing.T, events <-chan chain.Event) chain.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no watch event")
	}
	return chain.Event{}
}

func TestWatch_ReceiptAndConfirmations(t *testing.T) {
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	tx := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 0, testutil.TwoGwei)
	require.NoError(t, fc.SendTransaction(context.Background(), tx))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := chain.Watch(ctx, fc, tx.Hash(), 5*time.Millisecond)

	block := fc.Mine()
	ev := nextEvent(t, events)
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Receipt)
	assert.Equal(t, block, ev.Receipt.BlockNumber.Uint64())
	assert.Equal(t, uint64(1), ev.Confirmations)

	fc.MineBlocks(2)
	ev = nextEvent(t, events)
	for ev.Confirmations < 3 {
		ev = nextEvent(t, events)
	}
	assert.Equal(t, uint64(3), ev.Confirmations)
}

func TestWatch_ReceiptDisappearsOnReorg(t *testing.T) {
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	tx := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 0, testutil.TwoGwei)
	require.NoError(t, fc.SendTransaction(context.Background(), tx))
	snap := fc.Snapshot()
	fc.Mine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := chain.Watch(ctx, fc, tx.Hash(), 5*time.Millisecond)

	ev := nextEvent(t, events)
	require.NotNil(t, ev.Receipt)

	fc.Revert(snap)
	ev = nextEvent(t, events)
	assert.Nil(t, ev.Receipt)
	assert.NoError(t, ev.Err)
	assert.Equal(t, uint64(0), ev.Confirmations)

	// the reverted tx went back to the pool
	fc.Mine()
	ev = nextEvent(t, events)
	assert.NotNil(t, ev.Receipt)
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	tx := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 0, testutil.TwoGwei)

	ctx, cancel := context.WithCancel(context.Background())
	events := chain.Watch(ctx, fc, tx.Hash(), 5*time.Millisecond)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestNewPending(t *testing.T) {
	tx := testutil.SignedLegacyTx(testutil.TestPrivateKey1, testutil.ChainIDDev, 7, testutil.TwoGwei)
	p := chain.NewPending(tx, testutil.TestPrivateKey1Address)
	assert.Equal(t, uint64(7), p.Nonce)
	assert.Equal(t, tx.Hash(), p.Hash())
	assert.WithinDuration(t, time.Now(), p.SentAt, time.Second)
}
